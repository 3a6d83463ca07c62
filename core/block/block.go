package block

import (
	"encoding/json"

	"healthcoach/core/storage"
	"healthcoach/types/ids"
)

const Version = "1"

// Block is one ordered batch of applied transactions. Timestamp is the ledger
// time every write in the block is stamped with; it strictly increases with
// Height.
type Block struct {
	BlockID    ids.ID   `json:"block_id,omitempty"` // Computed block hash
	Version    string   `json:"version"`
	Height     uint64   `json:"height"`     // Block height (genesis = 0)
	PrevHash   ids.ID   `json:"prevHash"`   // Parent block hash
	MerkleRoot ids.ID   `json:"merkleRoot"` // Merkle root of transaction ids
	Timestamp  uint64   `json:"timestamp"`  // Ledger time, unix seconds
	TxIDs      []ids.ID `json:"txIDs"`
}

// Genesis is the empty block at height 0 with ledger time 0.
func Genesis() *Block {
	b := &Block{Version: Version}
	b.BlockID = b.ComputeID()
	return b
}

// New builds the child of parent holding txIDs at ledger time ts.
func New(parent *Block, ts uint64, txIDs []ids.ID) *Block {
	b := &Block{
		Version:    Version,
		Height:     parent.Height + 1,
		PrevHash:   parent.BlockID,
		MerkleRoot: MerkleRoot(txIDs),
		Timestamp:  ts,
		TxIDs:      txIDs,
	}
	b.BlockID = b.ComputeID()
	return b
}

// ComputeID computes the hash of the block header fields (excluding BlockID itself)
func (b *Block) ComputeID() ids.ID {
	header := struct {
		Version    string
		Height     uint64
		PrevHash   ids.ID
		MerkleRoot ids.ID
		Timestamp  uint64
	}{b.Version, b.Height, b.PrevHash, b.MerkleRoot, b.Timestamp}
	data, _ := storage.Marshal(header)
	return ids.NewID(data)
}

// Serialize encodes Block into JSON
func (b *Block) Serialize() ([]byte, error) {
	return json.Marshal(b)
}

// Deserialize decodes JSON into Block
func Deserialize(data []byte) (*Block, error) {
	var b Block
	err := json.Unmarshal(data, &b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
