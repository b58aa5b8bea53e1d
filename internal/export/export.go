// Package export renders hostel occupancy as an xlsx workbook.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"hostel-allocation-backend/internal/model"
	"hostel-allocation-backend/internal/occupancy"
)

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ErrGenerateFailed is returned when the workbook cannot be written.
var ErrGenerateFailed = errors.New("failed to generate occupancy report")

const (
	roomsSheet     = "Rooms"
	residentsSheet = "Residents"
)

// Source is the read side the report is built from. *occupancy.Aggregator
// implements it.
type Source interface {
	Hostel(ctx context.Context, hostelID string) (*occupancy.HostelOccupancy, error)
	Rooms(ctx context.Context, hostelID string) ([]occupancy.RoomOccupancy, error)
	Residents(ctx context.Context, roomID string) ([]model.Allocation, error)
}

// Reporter builds occupancy workbooks.
type Reporter struct {
	src Source
	log *zap.Logger
	now func() time.Time
}

// NewReporter creates a Reporter reading from src.
func NewReporter(src Source, log *zap.Logger) *Reporter {
	return &Reporter{src: src, log: log, now: time.Now}
}

// HostelReport returns the workbook for one hostel and a suggested file
// name. The first sheet lists rooms with their bed counts, the second the
// current residents of every room.
func (r *Reporter) HostelReport(ctx context.Context, hostelID string) (*bytes.Buffer, string, error) {
	summary, err := r.src.Hostel(ctx, hostelID)
	if err != nil {
		return nil, "", err
	}
	rooms, err := r.src.Rooms(ctx, hostelID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(roomsSheet)
	if err != nil {
		return nil, "", r.fail(err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, "", r.fail(err)
	}
	if _, err := f.NewSheet(residentsSheet); err != nil {
		return nil, "", r.fail(err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, "", r.fail(err)
	}

	generated := r.now().UTC()
	title := fmt.Sprintf("%s (%s) occupancy at %s", summary.Name, summary.Type, generated.Format(time.RFC3339))
	f.SetCellValue(roomsSheet, "A1", title)
	f.MergeCell(roomsSheet, "A1", "E1")
	f.SetCellStyle(roomsSheet, "A1", "A1", headerStyle)

	f.SetSheetRow(roomsSheet, "A2", &[]any{"Room", "Floor", "Capacity", "Occupied", "Available"})
	f.SetCellStyle(roomsSheet, "A2", "E2", headerStyle)
	f.SetColWidth(roomsSheet, "A", "A", 14)
	f.SetColWidth(roomsSheet, "B", "E", 11)

	row := 3
	for _, room := range rooms {
		f.SetSheetRow(roomsSheet, cell("A", row), &[]any{room.RoomNumber, room.Floor, room.Capacity, room.Occupied, room.Available})
		row++
	}
	f.SetSheetRow(roomsSheet, cell("A", row), &[]any{"Total", "", summary.TotalCapacity, summary.Occupied, summary.Available})
	f.SetCellStyle(roomsSheet, cell("A", row), cell("E", row), headerStyle)

	f.SetSheetRow(residentsSheet, "A1", &[]any{"Room", "Student", "Since"})
	f.SetCellStyle(residentsSheet, "A1", "C1", headerStyle)
	f.SetColWidth(residentsSheet, "A", "A", 14)
	f.SetColWidth(residentsSheet, "B", "C", 24)

	row = 2
	for _, room := range rooms {
		if room.Occupied == 0 {
			continue
		}
		residents, err := r.src.Residents(ctx, room.RoomID)
		if err != nil {
			return nil, "", err
		}
		for _, a := range residents {
			f.SetSheetRow(residentsSheet, cell("A", row), &[]any{room.RoomNumber, a.StudentID, a.StartedAt.UTC().Format("2006-01-02 15:04")})
			row++
		}
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, "", r.fail(err)
	}
	filename := fmt.Sprintf("occupancy_%s_%s.xlsx", summary.Name, generated.Format("20060102"))
	return buf, filename, nil
}

func (r *Reporter) fail(err error) error {
	r.log.Error("failed to build occupancy workbook", zap.Error(err))
	return fmt.Errorf("%w: %v", ErrGenerateFailed, err)
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
