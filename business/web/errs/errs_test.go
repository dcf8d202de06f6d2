package errs_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/ardanlabs/evmchain/business/web/errs"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Trusted(t *testing.T) {
	t.Log("Given the need to carry a status code with an error.")
	{
		base := errors.New("nonce too low")
		err := fmt.Errorf("submit: %w", errs.NewTrusted(base, http.StatusBadRequest))

		if !errs.IsTrusted(err) {
			t.Fatalf("\t%s\tShould find the trusted error in the chain.", failed)
		}
		t.Logf("\t%s\tShould find the trusted error in the chain.", success)

		if te := errs.GetTrusted(err); te.Status != http.StatusBadRequest {
			t.Fatalf("\t%s\tShould keep the status code, got %d.", failed, te.Status)
		}
		t.Logf("\t%s\tShould keep the status code.", success)

		if !errors.Is(err, base) {
			t.Fatalf("\t%s\tShould unwrap to the original error.", failed)
		}
		t.Logf("\t%s\tShould unwrap to the original error.", success)
	}
}

func Test_RPC(t *testing.T) {
	t.Log("Given the need to report JSON-RPC errors.")
	{
		re := errs.AsRPC(fmt.Errorf("lookup: %w", errs.NewRPC(errs.CodeMethodNotFound, "method %q not found", "eth_mine")))
		if re.Code != errs.CodeMethodNotFound {
			t.Fatalf("\t%s\tShould keep the code of a wrapped rpc error, got %d.", failed, re.Code)
		}
		t.Logf("\t%s\tShould keep the code of a wrapped rpc error.", success)

		re = errs.AsRPC(errors.New("insufficient funds"))
		if re.Code != errs.CodeServer || re.Message != "insufficient funds" {
			t.Fatalf("\t%s\tShould report plain errors as rejected input: %+v", failed, re)
		}
		t.Logf("\t%s\tShould report plain errors as rejected input.", success)
	}
}
