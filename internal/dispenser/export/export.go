// Package export writes issuance records as flat files for operators and
// downstream reconciliation.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

// Format selects the on-disk encoding of an export.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

var ErrUnknownFormat = errors.New("export: unknown format")

// ParseFormat accepts "csv" or "parquet", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatParquet:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

var header = []string{
	"wallet_address",
	"event_id",
	"status",
	"credential_ref",
	"attempts",
	"last_error",
	"created_at",
	"updated_at",
}

type parquetRow struct {
	WalletAddress string `parquet:"name=wallet_address, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventID       string `parquet:"name=event_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status        string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	CredentialRef string `parquet:"name=credential_ref, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attempts      int32  `parquet:"name=attempts, type=INT32"`
	LastError     string `parquet:"name=last_error, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt     string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	UpdatedAt     string `parquet:"name=updated_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteFile writes recs to path in the given format, creating parent
// directories as needed.
func WriteFile(path string, format Format, recs []types.IssuanceRecord) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("export: create dir: %w", err)
		}
	}
	switch format {
	case FormatCSV:
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("export: create csv: %w", err)
		}
		if err := WriteCSV(file, recs); err != nil {
			file.Close()
			return err
		}
		if err := file.Close(); err != nil {
			return fmt.Errorf("export: close csv: %w", err)
		}
		return nil
	case FormatParquet:
		return WriteParquet(path, recs)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// WriteCSV writes a header line followed by one line per record.
func WriteCSV(w io.Writer, recs []types.IssuanceRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("export: write csv header: %w", err)
	}
	for _, rec := range recs {
		row := []string{
			rec.WalletAddress,
			rec.EventID,
			string(rec.Status),
			rec.CredentialRef,
			strconv.Itoa(rec.Attempts),
			rec.LastError,
			formatTime(rec.CreatedAt),
			formatTime(rec.UpdatedAt),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush csv: %w", err)
	}
	return nil
}

// WriteParquet writes recs as a snappy-compressed parquet file at path.
func WriteParquet(path string, recs []types.IssuanceRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, rec := range recs {
		row := parquetRow{
			WalletAddress: rec.WalletAddress,
			EventID:       rec.EventID,
			Status:        string(rec.Status),
			CredentialRef: rec.CredentialRef,
			Attempts:      int32(rec.Attempts),
			LastError:     rec.LastError,
			CreatedAt:     formatTime(rec.CreatedAt),
			UpdatedAt:     formatTime(rec.UpdatedAt),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
