package chain

import "testing"

func TestEncodeDecodeBlockRoundTrip(t *testing.T) {
	txns := []Transaction{
		{Creator: 1, ClientSeq: 1, Payload: []byte("hello")},
		{Creator: 2, ClientSeq: 7, Payload: nil},
	}
	b := NewBlock(3, Hash{0x01, 0x02}, 4, RoleMedium, txns)

	encoded := EncodeBlock(b)
	decoded, err := DecodeBlock(encoded)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}

	if decoded.BlockID != b.BlockID || decoded.ParentHash != b.ParentHash || decoded.Depth != b.Depth {
		t.Fatalf("decoded header fields do not match: %+v vs %+v", decoded, b)
	}
	if decoded.CreatorRoleAtCreation != b.CreatorRoleAtCreation || decoded.Creator != b.Creator {
		t.Fatalf("decoded creator/role do not match: %+v vs %+v", decoded, b)
	}
	if len(decoded.Transactions) != len(txns) {
		t.Fatalf("expected %d transactions, got %d", len(txns), len(decoded.Transactions))
	}
	for i, txn := range decoded.Transactions {
		if txn.ID() != txns[i].ID() || string(txn.Payload) != string(txns[i].Payload) {
			t.Errorf("transaction %d round-tripped incorrectly: %+v vs %+v", i, txn, txns[i])
		}
	}
	if !decoded.Verify() {
		t.Fatalf("decoded block should still verify against its own BlockID")
	}
}

func TestDecodeBlockTruncated(t *testing.T) {
	b := NewBlock(1, ZeroHash, 1, RoleQuick, []Transaction{{Creator: 1, ClientSeq: 1, Payload: []byte("x")}})
	encoded := EncodeBlock(b)

	for cut := 0; cut < len(encoded); cut += 7 {
		if _, err := DecodeBlock(encoded[:cut]); err != ErrTruncated {
			t.Fatalf("expected ErrTruncated decoding %d of %d bytes, got %v", cut, len(encoded), err)
		}
	}
}
