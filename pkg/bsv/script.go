package bsv

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// AnchorPrefix tags every anchor output.
const AnchorPrefix = "AKUA"

// BuildDataCarrierOutput returns a zero-value OP_FALSE OP_RETURN output
// pushing each chunk in order. Pushes are not limited to 520 bytes since the
// script is never executed.
func BuildDataCarrierOutput(chunks ...[]byte) (*wire.TxOut, error) {
	builder := txscript.NewScriptBuilder().
		AddOp(txscript.OP_FALSE).
		AddOp(txscript.OP_RETURN)
	for _, chunk := range chunks {
		builder.AddFullData(chunk)
	}
	script, err := builder.Script()
	if err != nil {
		return nil, fmt.Errorf("build data carrier script: %w", err)
	}
	return wire.NewTxOut(0, script), nil
}

// AnchorOutput embeds the prefix and the 32 raw bytes of a SHA-256 hex digest.
func AnchorOutput(hashHex string) (*wire.TxOut, error) {
	digest, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, fmt.Errorf("decode hash: %w", err)
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(digest))
	}
	return BuildDataCarrierOutput([]byte(AnchorPrefix), digest)
}

// DataChunks returns the pushes following OP_FALSE OP_RETURN, or nil when
// the script is not a data carrier.
func DataChunks(script []byte) [][]byte {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_FALSE {
		return nil
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_RETURN {
		return nil
	}
	var chunks [][]byte
	for tokenizer.Next() {
		chunks = append(chunks, tokenizer.Data())
	}
	if tokenizer.Err() != nil {
		return nil
	}
	return chunks
}
