package indexer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	ID         string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Market     string `parquet:"name=market, type=BYTE_ARRAY, convertedtype=UTF8"`
	Owner      string `parquet:"name=owner, type=BYTE_ARRAY, convertedtype=UTF8"`
	Mint       string `parquet:"name=mint, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     uint64 `parquet:"name=amount, type=INT64, convertedtype=UINT_64"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	EmittedAt  string `parquet:"name=emitted_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes the matching events to path, oldest first, and
// returns the number of rows written.
func (ix *Indexer) ExportParquet(ctx context.Context, path string, f Filter) (int, error) {
	var records []EventRecord
	if err := ix.query(ctx, f).Order("emitted_at").Order("id").Find(&records).Error; err != nil {
		return 0, err
	}
	if err := writeParquet(path, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func writeParquet(path string, records []EventRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("indexer: create parquet: %w", err)
	}
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(file), new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("indexer: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := &parquetRow{
			ID:         rec.ID.String(),
			Type:       rec.Type,
			Market:     rec.Market,
			Owner:      rec.Owner,
			Mint:       rec.Mint,
			Amount:     rec.Amount,
			Attributes: rec.Attributes,
			EmittedAt:  rec.EmittedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("indexer: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("indexer: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("indexer: close parquet: %w", err)
	}
	return nil
}
