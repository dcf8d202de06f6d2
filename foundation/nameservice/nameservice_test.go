package nameservice_test

import (
	"path/filepath"
	"testing"

	"github.com/ardanlabs/evmchain/foundation/nameservice"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Lookup(t *testing.T) {
	t.Log("Given the need to name addresses from a folder of keys.")
	{
		dir := t.TempDir()

		pk, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
		}

		if err := crypto.SaveECDSA(filepath.Join(dir, "kennedy.ecdsa"), pk); err != nil {
			t.Fatalf("\t%s\tShould be able to save the key: %v", failed, err)
		}

		ns, err := nameservice.New(dir)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to load the folder: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to load the folder.", success)

		address := crypto.PubkeyToAddress(pk.PublicKey)
		if name := ns.Lookup(address); name != "kennedy" {
			t.Fatalf("\t%s\tShould find the name, got %q.", failed, name)
		}
		t.Logf("\t%s\tShould find the name.", success)

		other := crypto.PubkeyToAddress(pk.PublicKey)
		other[0]++
		if name := ns.Lookup(other); name != other.Hex() {
			t.Fatalf("\t%s\tShould get the address back for an unknown key, got %q.", failed, name)
		}
		t.Logf("\t%s\tShould get the address back for an unknown key.", success)

		key, err := ns.PrivateKey("kennedy")
		if err != nil || !key.Equal(pk) {
			t.Fatalf("\t%s\tShould get the private key by name: %v", failed, err)
		}
		t.Logf("\t%s\tShould get the private key by name.", success)

		if _, err := ns.PrivateKey("bill"); err == nil {
			t.Fatalf("\t%s\tShould fail for a missing name.", failed)
		}
		t.Logf("\t%s\tShould fail for a missing name.", success)
	}
}
