// Package labels shapes per-unit identification label data. Building is a
// pure function; turning a record's content string into a scannable image
// is the external encoder's job.
package labels

import (
	"fmt"
	"strings"

	"grndock/infrastructure/fault"
)

// MaxCount bounds one label set.
const MaxCount = 1000

// Record is the data for one printable label.
type Record struct {
	Sequence     int    `json:"sequence"`
	Total        int    `json:"total"`
	SequenceText string `json:"sequence_text"`
	ItemCode     string `json:"item_code"`
	ItemName     string `json:"item_name"`
	BatchNumber  string `json:"batch_number"`
	ReceiptDate  string `json:"grn_date"`
	ExpiryDate   string `json:"expiration_date"`
	BarcodeData  string `json:"barcode_data"`
}

// Build produces count ordered label records. Sequence numbers are
// one-based; the content string is deterministic so re-printing a label
// set yields identical barcodes.
func Build(itemCode, itemName, batchNumber, receiptDate, expiryDate string, count int) ([]Record, error) {
	itemCode = strings.TrimSpace(itemCode)
	batchNumber = strings.TrimSpace(batchNumber)
	if itemCode == "" {
		return nil, fault.New(fault.Validation, "item code is required")
	}
	if batchNumber == "" {
		return nil, fault.New(fault.Validation, "batch number is required")
	}
	if count < 1 || count > MaxCount {
		return nil, fault.New(fault.Validation, "label count must be between 1 and %d", MaxCount)
	}

	records := make([]Record, 0, count)
	for i := 1; i <= count; i++ {
		records = append(records, Record{
			Sequence:     i,
			Total:        count,
			SequenceText: fmt.Sprintf("%d of %d", i, count),
			ItemCode:     itemCode,
			ItemName:     itemName,
			BatchNumber:  batchNumber,
			ReceiptDate:  receiptDate,
			ExpiryDate:   expiryDate,
			BarcodeData:  fmt.Sprintf("%s-%s-%d", itemCode, batchNumber, i),
		})
	}
	return records, nil
}
