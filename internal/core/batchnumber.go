package core

import (
	"fmt"
	"regexp"
	"time"

	"trackcore/pkg/domain"
)

// Batch numbers are human readable: PREFIX-YYYYMMDD-NNNN. The numeric tail
// is a per-kind-per-day sequence allocated inside the creating transaction,
// so concurrent creators can never mint duplicates.

var batchPrefixes = map[domain.EntityKind]string{
	domain.KindSeedLot:              "SL",
	domain.KindMotherBatch:          "MB",
	domain.KindMotherPlant:          "MP",
	domain.KindCuttingBatch:         "CB",
	domain.KindCutting:              "CT",
	domain.KindBloomingCuttingBatch: "BC",
	domain.KindFloweringBatch:       "FB",
	domain.KindPlant:                "PL",
	domain.KindHarvest:              "HV",
	domain.KindDryingBatch:          "DB",
	domain.KindProcessingBatch:      "PB",
	domain.KindLabTestBatch:         "LT",
	domain.KindPackagingUnit:        "PU",
}

var batchNumberPattern = regexp.MustCompile(`^[A-Z]{2}-\d{8}-\d{4}$`)

// BatchDay formats the date component of a batch number.
func BatchDay(t time.Time) string {
	return t.UTC().Format("20060102")
}

// FormatBatchNumber renders the batch number for a kind, day, and sequence.
func FormatBatchNumber(kind domain.EntityKind, day string, seq int) string {
	prefix, ok := batchPrefixes[kind]
	if !ok {
		prefix = "XX"
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, day, seq)
}

// ValidBatchNumber reports whether s matches the batch number format.
func ValidBatchNumber(s string) bool {
	return batchNumberPattern.MatchString(s)
}

// nextBatchNumber allocates a batch number within the transaction.
func nextBatchNumber(tx Transaction, kind domain.EntityKind) string {
	day := BatchDay(tx.Now())
	seq := tx.NextBatchSequence(kind, day)
	return FormatBatchNumber(kind, day, seq)
}
