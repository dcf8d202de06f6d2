package peer_test

import (
	"testing"

	"github.com/ardanlabs/evmchain/foundation/blockchain/peer"
)

func Test_PeerSet(t *testing.T) {
	hosts := []string{"node3:9080", "node1:9080", "node2:9080"}

	t.Log("Given the need to track the known peers of a node.")
	{
		ps := peer.NewPeerSet()
		for _, host := range hosts {
			if !ps.Add(peer.New(host)) {
				t.Fatalf("\t%s\tShould be able to add host %s.", failed, host)
			}
		}
		t.Logf("\t%s\tShould be able to add every host.", success)

		if ps.Add(peer.New(hosts[0])) {
			t.Fatalf("\t%s\tShould not add the same host twice.", failed)
		}
		t.Logf("\t%s\tShould not add the same host twice.", success)

		peers := ps.Copy("")
		if len(peers) != len(hosts) || peers[0].Host != "node1:9080" || peers[2].Host != "node3:9080" {
			t.Logf("\t%s\tgot: %+v", failed, peers)
			t.Fatalf("\t%s\tShould get back every peer ordered by host.", failed)
		}
		t.Logf("\t%s\tShould get back every peer ordered by host.", success)

		peers = ps.Copy("node2:9080")
		for _, p := range peers {
			if p.Match("node2:9080") {
				t.Fatalf("\t%s\tShould leave out the specified host.", failed)
			}
		}
		if len(peers) != len(hosts)-1 {
			t.Fatalf("\t%s\tShould leave out the specified host: got %d peers.", failed, len(peers))
		}
		t.Logf("\t%s\tShould leave out the specified host.", success)

		updated := peer.New("node1:9080")
		updated.ID = "node-1"
		updated.Role = peer.RoleValidator
		updated.Height = 10
		updated.Alive = true
		ps.Update(updated)

		first := ps.Copy("")[0]
		if first.Height != 10 || first.Role != peer.RoleValidator || !first.Alive {
			t.Logf("\t%s\tgot: %+v", failed, first)
			t.Fatalf("\t%s\tShould replace what is known about the host.", failed)
		}
		t.Logf("\t%s\tShould replace what is known about the host.", success)

		ps.Remove("node1:9080")
		ps.Remove("node9:9080")
		if len(ps.Copy("")) != len(hosts)-1 {
			t.Fatalf("\t%s\tShould remove only the known host.", failed)
		}
		t.Logf("\t%s\tShould remove only the known host.", success)
	}
}
