package room

import (
	"encoding/json"
	"testing"
	"time"

	"typerace-backend/internal/protocol"
	"typerace-backend/internal/tasks"
)

func testTasks() ([]tasks.Task, int) {
	session := tasks.Generate(2, 0)
	return session.Tasks, session.NumTasks
}

func newTestRoom(isPublic bool) *Room {
	return New("testroom", isPublic, testTasks, func(string) {})
}

func drain(ch chan []byte) []protocol.Envelope {
	var out []protocol.Envelope
	for {
		select {
		case msg := <-ch:
			var env protocol.Envelope
			_ = json.Unmarshal(msg, &env)
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestJoinRejectsWhenFull(t *testing.T) {
	r := newTestRoom(true)
	if err := r.Join("p1", "Alice"); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	if err := r.Join("p2", "Bob"); err != nil {
		t.Fatalf("second join failed: %v", err)
	}
	if err := r.Join("p3", "Carl"); err != ErrRoomFull {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	r := newTestRoom(true)
	if err := r.Join("p1", "Alice"); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := r.Join("p1", "Alice"); err != nil {
		t.Fatalf("re-join should be a no-op, got %v", err)
	}
	if len(r.players) != 1 {
		t.Fatalf("expected 1 player, got %d", len(r.players))
	}
}

func TestReadyBothPlayersStartsCountdown(t *testing.T) {
	r := newTestRoom(true)
	ch1 := make(chan []byte, 16)
	ch2 := make(chan []byte, 16)
	_ = r.Join("p1", "Alice")
	_ = r.Join("p2", "Bob")
	r.RegisterClient("p1", ch1)
	r.RegisterClient("p2", ch2)

	_ = r.Ready("p1")
	state, _, _ := r.Snapshot()
	if state != StateWaiting {
		t.Fatalf("room should still be waiting after only one ready, got %s", state)
	}

	_ = r.Ready("p2")
	state, _, _ = r.Snapshot()
	if state != StateCountdown {
		t.Fatalf("expected countdown after both ready, got %s", state)
	}

	time.Sleep(50 * time.Millisecond)
	events := drain(ch1)
	foundCountdown := false
	for _, e := range events {
		if e.Type == protocol.EventGameCountdown {
			foundCountdown = true
		}
	}
	if !foundCountdown {
		t.Fatalf("expected at least one game:countdown event, got %+v", events)
	}
}

func TestReadyAfterFinishedPublicRoomRejectsWithRequeue(t *testing.T) {
	r := newTestRoom(true)
	r.State = StateFinished
	_ = r.Join("p1", "Alice")
	if err := r.Ready("p1"); err != ErrRequeue {
		t.Fatalf("expected ErrRequeue, got %v", err)
	}
}

func TestHandleCursorAdvancesNavigateTask(t *testing.T) {
	r := newTestRoom(false)
	_ = r.Join("p1", "Alice")
	_ = r.Join("p2", "Bob")
	r.State = StateRacing
	r.StartTime = time.Now()
	r.taskList = []tasks.Task{
		{Kind: tasks.KindNavigate, TargetOffset: 5},
		{Kind: tasks.KindNavigate, TargetOffset: 0},
	}
	r.NumTasks = 2

	r.HandleCursor("p1", 3)
	if r.players["p1"].TaskProgress != 0 {
		t.Fatalf("wrong offset should not advance progress")
	}

	r.HandleCursor("p1", 5)
	if r.players["p1"].TaskProgress != 1 {
		t.Fatalf("expected progress 1 after matching offset, got %d", r.players["p1"].TaskProgress)
	}
}

func TestHandleEditorTextPartialEditRejected(t *testing.T) {
	r := newTestRoom(false)
	_ = r.Join("p1", "Alice")
	_ = r.Join("p2", "Bob")
	r.State = StateRacing
	r.StartTime = time.Now()
	r.taskList = []tasks.Task{
		{Kind: tasks.KindDelete, CodeSnippet: "abcdef", TargetRange: tasks.Range{From: 1, To: 3}, ExpectedResult: "adef"},
	}
	r.NumTasks = 1
	ch := make(chan []byte, 16)
	r.RegisterClient("p1", ch)

	r.HandleEditorText("p1", "xxcdef")
	events := drain(ch)
	foundFail := false
	for _, e := range events {
		if e.Type == protocol.EventGameValidationFailed {
			foundFail = true
		}
	}
	if !foundFail {
		t.Fatalf("expected game:validation_failed for a mismatched prefix edit")
	}

	r.HandleEditorText("p1", "adef")
	if !r.players["p1"].IsFinished {
		t.Fatalf("expected p1 to finish the only task after matching expected result")
	}
}

func TestEndRaceRunsOnceAndComputesRankings(t *testing.T) {
	r := newTestRoom(true)
	_ = r.Join("p1", "Alice")
	_ = r.Join("p2", "Bob")
	ch := make(chan []byte, 16)
	r.RegisterClient("p1", ch)
	r.State = StateRacing
	r.StartTime = time.Now().Add(-time.Second)
	r.NumTasks = 1
	r.players["p1"].TaskProgress = 0
	r.players["p2"].TaskProgress = 0
	r.taskList = []tasks.Task{{Kind: tasks.KindNavigate, TargetOffset: 0}}

	r.advancePlayerTask("p1")
	if r.State != StateRacing {
		t.Fatalf("expected still racing while p2 is unfinished, got %s", r.State)
	}
	r.advancePlayerTask("p2")

	if r.State != StateFinished {
		t.Fatalf("expected finished state after both players complete, got %s", r.State)
	}

	r.endRace()
	completes := 0
	for _, e := range drain(ch) {
		if e.Type == protocol.EventGameComplete {
			completes++
		}
	}
	if completes != 1 {
		t.Fatalf("expected exactly one game:complete, got %d", completes)
	}

	rankings := r.computeRankingsLocked()
	if len(rankings) != 2 {
		t.Fatalf("expected 2 ranking entries, got %d", len(rankings))
	}
	if rankings[0].Position != 1 || rankings[1].Position != 2 {
		t.Fatalf("expected positions 1 and 2, got %+v", rankings)
	}
}

func TestLeaveDuringRaceEndsRaceWithUnfinishedOpponent(t *testing.T) {
	r := newTestRoom(true)
	_ = r.Join("p1", "Alice")
	_ = r.Join("p2", "Bob")
	r.State = StateRacing
	r.StartTime = time.Now()
	r.NumTasks = 2
	r.taskList = []tasks.Task{{Kind: tasks.KindNavigate}, {Kind: tasks.KindNavigate}}

	r.Leave("p2")

	if r.State != StateFinished {
		t.Fatalf("expected room to finish when a racer leaves, got %s", r.State)
	}

	rankings := r.computeRankingsLocked()
	foundP1 := false
	for _, entry := range rankings {
		if entry.PlayerID == "p1" && entry.TimeMs == 0 {
			foundP1 = true
		}
	}
	if !foundP1 {
		t.Fatalf("expected remaining player to appear unfinished in rankings, got %+v", rankings)
	}
}

func TestLeaveWhenEmptyDestroysRoom(t *testing.T) {
	destroyed := false
	r := New("testroom", true, testTasks, func(string) { destroyed = true })
	_ = r.Join("p1", "Alice")

	r.Leave("p1")

	if !destroyed {
		t.Fatalf("expected room to be destroyed once the last player leaves")
	}
}
