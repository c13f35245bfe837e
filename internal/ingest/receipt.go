package ingest

// ReceiptVersion is the schema version stamped on every receipt.
const ReceiptVersion = "1"

// Receipt is emitted on the output topic once a payload hash is anchored.
type Receipt struct {
	Version   string         `json:"version"`
	Original  map[string]any `json:"original"`
	Canonical string         `json:"canonical"`
	SHA256    string         `json:"sha256"`
	TxID      string         `json:"txid"`
	Publisher ReceiptAnchor  `json:"publisher"`
	Meta      Meta           `json:"meta"`
}

type ReceiptAnchor struct {
	Network string `json:"network"`
	Status  string `json:"status"`
	Cached  bool   `json:"cached"`
}

func NewReceipt(env *Envelope, resp *PublishResponse) Receipt {
	return Receipt{
		Version:   ReceiptVersion,
		Original:  env.Payload,
		Canonical: env.Canonical,
		SHA256:    env.SHA256,
		TxID:      resp.TxID,
		Publisher: ReceiptAnchor{
			Network: resp.Network,
			Status:  resp.Status,
			Cached:  resp.Cached,
		},
		Meta: env.Meta(),
	}
}

// Attributes returns the message attributes for a receipt.
func (r Receipt) Attributes() map[string]string {
	attrs := map[string]string{AttrSHA256: r.SHA256}
	if r.Meta.CorrelationID != nil {
		attrs[AttrCorrelationID] = *r.Meta.CorrelationID
	}
	if r.Meta.MessageID != nil {
		attrs[AttrMessageID] = *r.Meta.MessageID
	}
	return attrs
}
