package events_test

import (
	"testing"

	"github.com/ardanlabs/evmchain/foundation/events"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Events(t *testing.T) {
	t.Log("Given the need to fan out events to receivers.")
	{
		evts := events.New[string]()

		ch1 := evts.Acquire("a")
		ch2 := evts.Acquire("b")

		if evts.Acquire("a") != ch1 {
			t.Fatalf("\t%s\tShould get the same channel for the same id.", failed)
		}
		t.Logf("\t%s\tShould get the same channel for the same id.", success)

		evts.Send("hello")

		if <-ch1 != "hello" || <-ch2 != "hello" {
			t.Fatalf("\t%s\tShould deliver to every receiver.", failed)
		}
		t.Logf("\t%s\tShould deliver to every receiver.", success)

		if err := evts.Release("a"); err != nil {
			t.Fatalf("\t%s\tShould release the receiver: %v", failed, err)
		}
		if _, open := <-ch1; open {
			t.Fatalf("\t%s\tShould close the released channel.", failed)
		}
		t.Logf("\t%s\tShould close the released channel.", success)

		if err := evts.Release("a"); err == nil {
			t.Fatalf("\t%s\tShould fail to release twice.", failed)
		}
		t.Logf("\t%s\tShould fail to release twice.", success)

		for i := 0; i < 200; i++ {
			evts.Send("flood")
		}
		t.Logf("\t%s\tShould not block on a full receiver.", success)

		evts.Shutdown()
		if evts.Count() != 0 {
			t.Fatalf("\t%s\tShould remove every receiver on shutdown.", failed)
		}
		t.Logf("\t%s\tShould remove every receiver on shutdown.", success)
	}
}
