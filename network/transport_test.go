package network

import (
	"fmt"
	"testing"
	"time"

	"github.com/ahwlsqja/wbft-cosmos/consensus/wbft"
	"github.com/ahwlsqja/wbft-cosmos/types"
)

func newTestTransport(name string, port int) *Transport {
	return NewTransport(&TransportConfig{
		NodeID:  types.NewID([]byte(name)),
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})
}

// waitUntil 조건이 참이 될 때까지 폴링함
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestTransportConnectAndExchange(t *testing.T) {
	a := newTestTransport("node-a", 38656)
	b := newTestTransport("node-b", 38657)

	aGot := make(chan *wbft.Message, 8)
	bGot := make(chan *wbft.Message, 8)
	a.SetMessageHandler(func(msg *wbft.Message) { aGot <- msg })
	b.SetMessageHandler(func(msg *wbft.Message) { bGot <- msg })

	if err := a.Start(); err != nil {
		t.Fatalf("start a: %v", err)
	}
	defer a.Stop()
	if err := b.Start(); err != nil {
		t.Fatalf("start b: %v", err)
	}
	defer b.Stop()

	if err := a.Connect(b.nodeID, "127.0.0.1:38657"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// 핸드셰이크가 끝나면 양쪽 모두 상대를 피어로 등록해야 함
	waitUntil(t, 5*time.Second, func() bool {
		return a.PeerCount() == 1 && b.PeerCount() == 1
	})

	peers := b.GetPeers()
	if len(peers) != 1 || peers[0] != a.nodeID {
		t.Fatalf("b registered wrong peer: %v", peers)
	}

	// a -> b broadcast
	sent := &wbft.Message{
		Type:      wbft.MsgProposal,
		Height:    7,
		Round:     2,
		SenderID:  a.nodeID,
		Timestamp: time.Now(),
		Payload:   []byte("block"),
	}
	if err := a.Broadcast(sent); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	select {
	case got := <-bGot:
		if got.Type != wbft.MsgProposal || got.Height != 7 || got.Round != 2 {
			t.Errorf("unexpected message: %+v", got)
		}
		if got.SenderID != a.nodeID {
			t.Errorf("sender = %s, want %s", got.SenderID.Short(), a.nodeID.Short())
		}
		if string(got.Payload) != "block" {
			t.Errorf("payload = %q", got.Payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("b never received the broadcast")
	}

	// b -> a direct send over the same connection
	reply := &wbft.Message{
		Type:     wbft.MsgVote,
		Height:   7,
		Round:    2,
		SenderID: b.nodeID,
	}
	if err := b.Send(a.nodeID, reply); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case got := <-aGot:
		if got.Type != wbft.MsgVote || got.SenderID != b.nodeID {
			t.Errorf("unexpected reply: %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("a never received the reply")
	}
}

func TestTransportSendToUnknownPeer(t *testing.T) {
	a := newTestTransport("lonely", 38660)
	if err := a.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop()

	err := a.Send(types.NewID([]byte("stranger")), &wbft.Message{Type: wbft.MsgVote})
	if err == nil {
		t.Fatal("expected error sending to unknown peer")
	}
}

func TestTransportPeerRemovedOnDisconnect(t *testing.T) {
	a := newTestTransport("node-a2", 38661)
	b := newTestTransport("node-b2", 38662)

	if err := a.Start(); err != nil {
		t.Fatalf("start a: %v", err)
	}
	defer a.Stop()
	if err := b.Start(); err != nil {
		t.Fatalf("start b: %v", err)
	}

	if err := a.Connect(b.nodeID, "127.0.0.1:38662"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitUntil(t, 5*time.Second, func() bool {
		return a.PeerCount() == 1 && b.PeerCount() == 1
	})

	// 상대가 내려가면 피어 목록에서 제거되어야 함
	b.Stop()
	waitUntil(t, 5*time.Second, func() bool {
		return a.PeerCount() == 0
	})
}

func TestTransportConnectRejectsWrongIdentity(t *testing.T) {
	b := newTestTransport("real-b", 38663)
	if err := b.Start(); err != nil {
		t.Fatalf("start b: %v", err)
	}
	defer b.Stop()

	a := newTestTransport("node-a3", 38664)
	if err := a.Start(); err != nil {
		t.Fatalf("start a: %v", err)
	}
	defer a.Stop()

	err := a.Connect(types.NewID([]byte("impostor")), "127.0.0.1:38663")
	if err == nil {
		t.Fatal("expected identity mismatch error")
	}
	if a.PeerCount() != 0 {
		t.Fatalf("peer registered despite mismatch: %d", a.PeerCount())
	}
}

func TestMockTransportRecordsMessages(t *testing.T) {
	self := types.NewID([]byte("self"))
	other := types.NewID([]byte("other"))
	mt := NewMockTransport(self, []types.ID{other})

	msg1 := &wbft.Message{Type: wbft.MsgProposal, Height: 1, SenderID: self}
	msg2 := &wbft.Message{Type: wbft.MsgVote, Height: 1, SenderID: self}

	if err := mt.Broadcast(msg1); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if err := mt.Send(other, msg2); err != nil {
		t.Fatalf("send: %v", err)
	}

	sent := mt.GetSentMessages()
	if len(sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(sent))
	}
	if sent[0].Type != wbft.MsgProposal || sent[1].Type != wbft.MsgVote {
		t.Errorf("messages recorded out of order: %v, %v", sent[0].Type, sent[1].Type)
	}

	// 반환된 슬라이스는 복사본이어야 함
	sent[0] = nil
	if mt.GetSentMessages()[0] == nil {
		t.Error("GetSentMessages returned internal slice")
	}

	mt.ClearSentMessages()
	if len(mt.GetSentMessages()) != 0 {
		t.Errorf("clear left %d messages", len(mt.GetSentMessages()))
	}
}

func TestMockTransportSimulateReceive(t *testing.T) {
	mt := NewMockTransport(types.NewID([]byte("self")), nil)

	var got *wbft.Message
	mt.SetMessageHandler(func(msg *wbft.Message) { got = msg })

	in := &wbft.Message{Type: wbft.MsgEvidence, Height: 9}
	mt.SimulateReceive(in)

	if got == nil || got.Height != 9 || got.Type != wbft.MsgEvidence {
		t.Fatalf("handler saw %+v", got)
	}
}
