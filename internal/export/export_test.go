package export

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"hostel-allocation-backend/internal/allocation"
	"hostel-allocation-backend/internal/db/dbtest"
	"hostel-allocation-backend/internal/model"
	"hostel-allocation-backend/internal/occupancy"
	"hostel-allocation-backend/internal/store"
)

func TestReporter_HostelReport(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	engine := allocation.NewEngine(store.NewGormStore(db))

	hostel, err := engine.CreateHostel(ctx, "Rose", model.HostelTypeGirls)
	require.NoError(t, err)
	r101, err := engine.CreateRoom(ctx, hostel.ID, "101", 1, 2)
	require.NoError(t, err)
	_, err = engine.CreateRoom(ctx, hostel.ID, "102", 1, 3)
	require.NoError(t, err)
	require.NoError(t, engine.RegisterStudent(ctx, &model.Student{ID: "s1", Name: "Asha", Gender: model.GenderFemale}))
	_, err = engine.Allocate(ctx, "s1", r101.ID)
	require.NoError(t, err)

	reporter := NewReporter(occupancy.New(db), zap.NewNop())
	reporter.now = func() time.Time { return time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC) }

	buf, filename, err := reporter.HostelReport(ctx, hostel.ID)
	require.NoError(t, err)
	assert.Equal(t, "occupancy_Rose_20250701.xlsx", filename)

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{roomsSheet, residentsSheet}, f.GetSheetList())

	rows, err := f.GetRows(roomsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "Rose (GIRLS) occupancy at 2025-07-01T09:00:00Z", rows[0][0])
	assert.Equal(t, []string{"Room", "Floor", "Capacity", "Occupied", "Available"}, rows[1])
	assert.Equal(t, []string{"101", "1", "2", "1", "1"}, rows[2])
	assert.Equal(t, []string{"102", "1", "3", "0", "3"}, rows[3])
	assert.Equal(t, []string{"Total", "", "5", "1", "4"}, rows[4])

	residents, err := f.GetRows(residentsSheet)
	require.NoError(t, err)
	require.Len(t, residents, 2)
	assert.Equal(t, "101", residents[1][0])
	assert.Equal(t, "s1", residents[1][1])
}

func TestReporter_UnknownHostel(t *testing.T) {
	reporter := NewReporter(occupancy.New(dbtest.New(t)), zap.NewNop())
	_, _, err := reporter.HostelReport(context.Background(), "missing")
	assert.True(t, errors.Is(err, occupancy.ErrNotFound))
}
