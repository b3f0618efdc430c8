package tasks

import "testing"

func TestGenerateMixAndSentinel(t *testing.T) {
	session := Generate(10, 1000)

	if session.NumTasks != 10 {
		t.Fatalf("expected NumTasks=10, got %d", session.NumTasks)
	}
	if len(session.Tasks) != 11 {
		t.Fatalf("expected 11 tasks (10 + sentinel), got %d", len(session.Tasks))
	}

	terminal := session.Tasks[len(session.Tasks)-1]
	if terminal.Kind != KindNavigate || terminal.CodeSnippet != "" || terminal.TargetOffset != 0 {
		t.Fatalf("expected empty terminal navigate task, got %+v", terminal)
	}

	var navigate, deleteCount int
	for _, task := range session.Tasks[:10] {
		switch task.Kind {
		case KindNavigate:
			navigate++
		case KindDelete:
			deleteCount++
		}
	}
	if navigate != 5 || deleteCount != 5 {
		t.Fatalf("expected 5/5 navigate/delete split, got %d/%d", navigate, deleteCount)
	}
}

func TestGenerateOddSplitFavorsNavigate(t *testing.T) {
	session := Generate(5, 0)
	var navigate, deleteCount int
	for _, task := range session.Tasks[:5] {
		if task.Kind == KindNavigate {
			navigate++
		} else {
			deleteCount++
		}
	}
	if navigate != 3 || deleteCount != 2 {
		t.Fatalf("expected 3 navigate / 2 delete for n=5, got %d/%d", navigate, deleteCount)
	}
}

func TestDeleteTaskRangeValid(t *testing.T) {
	for i := 0; i < 200; i++ {
		task := generateDeleteTask()
		if task.TargetRange.From < 0 || task.TargetRange.To > len(task.CodeSnippet) || task.TargetRange.From >= task.TargetRange.To {
			t.Fatalf("invalid range %+v for snippet length %d", task.TargetRange, len(task.CodeSnippet))
		}
		want := task.CodeSnippet[:task.TargetRange.From] + task.CodeSnippet[task.TargetRange.To:]
		if task.ExpectedResult != want {
			t.Fatalf("expected result mismatch: got %q want %q", task.ExpectedResult, want)
		}
	}
}

func TestNavigateTaskOffsetIsNonWhitespaceOrZero(t *testing.T) {
	for i := 0; i < 200; i++ {
		task := generatePositionTask()
		if task.TargetOffset < 0 || task.TargetOffset > len(task.CodeSnippet) {
			t.Fatalf("offset %d out of bounds for snippet of length %d", task.TargetOffset, len(task.CodeSnippet))
		}
	}
}

func TestValidatePartialEdit(t *testing.T) {
	snippet := "abcdef"
	rng := Range{From: 2, To: 5}

	cases := []struct {
		text string
		want bool
	}{
		{"abf", true},   // fully completed deletion
		{"abcf", true},  // partial, invariant holds
		{"axcdef", false}, // prefix violated
		{"abcdeZf", false}, // longer than the original snippet, exceeds max length
	}

	for _, c := range cases {
		got := ValidatePartialEdit(snippet, rng, c.text)
		if got != c.want {
			t.Errorf("ValidatePartialEdit(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}
