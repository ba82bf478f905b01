package action

import (
	"encoding/json"
	"fmt"
)

// ledgerDocument is the persisted shape of the ledger. Records are stored in
// participant order so the same ledger always serializes to the same bytes.
type ledgerDocument struct {
	Records []ledgerRecordDocument `json:"records"`
}

type ledgerRecordDocument struct {
	ParticipantID string         `json:"participant_id"`
	Budget        budgetDocument `json:"budget"`
	Baseline      budgetDocument `json:"baseline"`
	Reserved      string         `json:"reserved,omitempty"`
}

type budgetDocument struct {
	Simple    int `json:"simple"`
	Complex   int `json:"complex"`
	Interrupt int `json:"interrupt"`
}

func toBudgetDocument(b Budget) budgetDocument {
	return budgetDocument{Simple: b.Simple, Complex: b.Complex, Interrupt: b.Interrupt}
}

func (d budgetDocument) budget() Budget {
	return Budget{Simple: d.Simple, Complex: d.Complex, Interrupt: d.Interrupt}
}

// MarshalJSON serializes the ledger for snapshot storage.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	doc := ledgerDocument{Records: make([]ledgerRecordDocument, 0, len(l.byID))}
	for _, entry := range l.List() {
		doc.Records = append(doc.Records, ledgerRecordDocument{
			ParticipantID: entry.ParticipantID,
			Budget:        toBudgetDocument(entry.Budget),
			Baseline:      toBudgetDocument(entry.Baseline),
			Reserved:      string(entry.Reserved),
		})
	}
	return json.Marshal(doc)
}

// UnmarshalJSON restores a ledger persisted by MarshalJSON.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var doc ledgerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode ledger: %w", err)
	}
	byID := make(map[string]*record, len(doc.Records))
	for _, rd := range doc.Records {
		if rd.ParticipantID == "" {
			return fmt.Errorf("decode ledger: record without participant id")
		}
		reserved := Kind(rd.Reserved)
		if reserved != "" && reserved != KindSimple && reserved != KindComplex {
			return fmt.Errorf("decode ledger: participant %s: invalid held kind %q", rd.ParticipantID, rd.Reserved)
		}
		byID[rd.ParticipantID] = &record{
			budget:   rd.Budget.budget(),
			baseline: rd.Baseline.budget(),
			reserved: reserved,
		}
	}
	l.byID = byID
	return nil
}
