package bsv

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrFeeExceeded       = errors.New("fee exceeds maximum")
)

const (
	// SigHashForkID marks BSV replay-protected signatures.
	SigHashForkID txscript.SigHashType = 0x40

	sigHashAllForkID = txscript.SigHashAll | SigHashForkID

	txVersion = 1

	// push(73-byte DER sig with sighash byte) + push(pubkey)
	maxSignatureLen = 73
)

// Transaction is a signed anchoring transaction.
type Transaction struct {
	Msg     *wire.MsgTx
	TxID    string
	Fee     int64
	TotalIn int64
	Inputs  []UTXO
	Change  *UTXO
}

// Hex returns the serialized transaction as lowercase hex.
func (t *Transaction) Hex() (string, error) {
	var buf bytes.Buffer
	buf.Grow(t.Msg.SerializeSizeStripped())
	if err := t.Msg.SerializeNoWitness(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// Builder assembles and signs transactions spending P2PKH inputs of a
// single key under a fee ceiling.
type Builder struct {
	signer  Signer
	network Network
	maxFee  int64
}

// NewBuilder returns a builder. A maxFee of zero or less disables the ceiling.
func NewBuilder(signer Signer, network Network, maxFee int64) *Builder {
	return &Builder{signer: signer, network: network, maxFee: maxFee}
}

func (b *Builder) Network() Network {
	return b.network
}

// Build spends every input, appends dataOutput and a change output to
// changeAddress when the remainder is at least DustThreshold, and signs all
// inputs with SIGHASH_ALL|FORKID. The fee ceiling is enforced before signing.
func (b *Builder) Build(inputs []UTXO, dataOutput *wire.TxOut, feePerKb int64, changeAddress string) (*Transaction, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no inputs", ErrInsufficientFunds)
	}
	if dataOutput == nil {
		return nil, errors.New("data output required")
	}
	changeScript, err := PayToAddressScript(changeAddress, b.network)
	if err != nil {
		return nil, fmt.Errorf("change address: %w", err)
	}

	tx := wire.NewMsgTx(txVersion)
	placeholder := make([]byte, 1+maxSignatureLen+1+len(b.signer.PubKey()))
	prevScripts := make([][]byte, len(inputs))
	var totalIn int64
	for i, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, fmt.Errorf("input %d txid: %w", i, err)
		}
		script, err := hex.DecodeString(in.Script)
		if err != nil {
			return nil, fmt.Errorf("input %d script: %w", i, err)
		}
		if len(script) == 0 {
			return nil, fmt.Errorf("input %d has no locking script", i)
		}
		prevScripts[i] = script
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, in.Vout), placeholder, nil))
		totalIn += in.Satoshis
	}

	tx.AddTxOut(dataOutput)
	var totalOut int64
	for _, out := range tx.TxOut {
		totalOut += out.Value
	}

	var change *UTXO
	changeOut := wire.NewTxOut(0, changeScript)
	tx.AddTxOut(changeOut)
	fee := feeForSize(tx.SerializeSizeStripped(), feePerKb)
	if remainder := totalIn - totalOut - fee; remainder >= DustThreshold {
		changeOut.Value = remainder
		change = &UTXO{
			Vout:     uint32(len(tx.TxOut) - 1),
			Satoshis: remainder,
			Script:   hex.EncodeToString(changeScript),
		}
	} else {
		tx.TxOut = tx.TxOut[:len(tx.TxOut)-1]
		fee = feeForSize(tx.SerializeSizeStripped(), feePerKb)
		if totalIn < totalOut+fee {
			return nil, fmt.Errorf("%w: need %d sats, have %d", ErrInsufficientFunds, totalOut+fee, totalIn)
		}
		fee = totalIn - totalOut
	}

	if b.maxFee > 0 && fee > b.maxFee {
		return nil, fmt.Errorf("%w: fee %d sats, max %d", ErrFeeExceeded, fee, b.maxFee)
	}

	for i := range tx.TxIn {
		sigHash, err := calcSignatureHash(tx, i, prevScripts[i], inputs[i].Satoshis, sigHashAllForkID)
		if err != nil {
			return nil, fmt.Errorf("sighash input %d: %w", i, err)
		}
		sig, err := b.signer.Sign(sigHash)
		if err != nil {
			return nil, fmt.Errorf("sign input %d: %w", i, err)
		}
		unlock, err := txscript.NewScriptBuilder().
			AddData(append(sig, byte(sigHashAllForkID))).
			AddData(b.signer.PubKey()).
			Script()
		if err != nil {
			return nil, fmt.Errorf("unlocking script input %d: %w", i, err)
		}
		tx.TxIn[i].SignatureScript = unlock
	}

	txid := tx.TxHash().String()
	if change != nil {
		change.TxID = txid
	}
	spent := make([]UTXO, len(inputs))
	copy(spent, inputs)

	return &Transaction{
		Msg:     tx,
		TxID:    txid,
		Fee:     fee,
		TotalIn: totalIn,
		Inputs:  spent,
		Change:  change,
	}, nil
}

// feeForSize rounds size*feePerKb/1000 up to a whole satoshi.
func feeForSize(size int, feePerKb int64) int64 {
	return (int64(size)*feePerKb + 999) / 1000
}

// calcSignatureHash computes the BIP143-style digest BSV signs with FORKID.
func calcSignatureHash(tx *wire.MsgTx, idx int, scriptCode []byte, amount int64, hashType txscript.SigHashType) ([]byte, error) {
	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, fmt.Errorf("input index %d out of range", idx)
	}

	var prevouts, sequences, outputs bytes.Buffer
	var scratch [8]byte
	for _, in := range tx.TxIn {
		prevouts.Write(in.PreviousOutPoint.Hash[:])
		binary.LittleEndian.PutUint32(scratch[:4], in.PreviousOutPoint.Index)
		prevouts.Write(scratch[:4])
		binary.LittleEndian.PutUint32(scratch[:4], in.Sequence)
		sequences.Write(scratch[:4])
	}
	for _, out := range tx.TxOut {
		if err := wire.WriteTxOut(&outputs, 0, tx.Version, out); err != nil {
			return nil, err
		}
	}

	in := tx.TxIn[idx]
	var preimage bytes.Buffer
	binary.LittleEndian.PutUint32(scratch[:4], uint32(tx.Version))
	preimage.Write(scratch[:4])
	preimage.Write(chainhash.DoubleHashB(prevouts.Bytes()))
	preimage.Write(chainhash.DoubleHashB(sequences.Bytes()))
	preimage.Write(in.PreviousOutPoint.Hash[:])
	binary.LittleEndian.PutUint32(scratch[:4], in.PreviousOutPoint.Index)
	preimage.Write(scratch[:4])
	if err := wire.WriteVarBytes(&preimage, 0, scriptCode); err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint64(scratch[:], uint64(amount))
	preimage.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:4], in.Sequence)
	preimage.Write(scratch[:4])
	preimage.Write(chainhash.DoubleHashB(outputs.Bytes()))
	binary.LittleEndian.PutUint32(scratch[:4], tx.LockTime)
	preimage.Write(scratch[:4])
	binary.LittleEndian.PutUint32(scratch[:4], uint32(hashType))
	preimage.Write(scratch[:4])

	return chainhash.DoubleHashB(preimage.Bytes()), nil
}

// ExtractChange returns the output paying changeAddress, or nil.
func ExtractChange(tx *wire.MsgTx, changeAddress string, network Network) (*UTXO, error) {
	script, err := PayToAddressScript(changeAddress, network)
	if err != nil {
		return nil, err
	}
	txid := tx.TxHash().String()
	for i, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, script) {
			return &UTXO{
				TxID:     txid,
				Vout:     uint32(i),
				Satoshis: out.Value,
				Script:   hex.EncodeToString(script),
			}, nil
		}
	}
	return nil, nil
}
