package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gearline/vehicle-cli/internal/model"
)

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgres_SaveResolutionTransaction(t *testing.T) {
	s, mock := newMockPostgres(t)
	r := civicResolution(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM resolutions").
		WithArgs(2018, "honda", "civic").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO resolutions").
		WithArgs(r.ID, 2018, "honda", "civic", r.OverallConfidence, r.NeedsReview, r.ResolvedAt.UTC()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for range r.Fields {
		mock.ExpectExec("INSERT INTO field_results").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCopyFrom(pgx.Identifier{"evidence"},
		[]string{"id", "resolution_id", "field", "url", "quote", "value", "trust_weight"}).
		WillReturnResult(4)
	mock.ExpectCommit()

	require.NoError(t, s.SaveResolution(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveRollsBackOnInsertError(t *testing.T) {
	s, mock := newMockPostgres(t)
	r := civicResolution(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM resolutions").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO resolutions").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrTxClosed)
	mock.ExpectRollback()

	err := s.SaveResolution(context.Background(), r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert resolution")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveRejectsInvalidWithoutTouchingPool(t *testing.T) {
	s, mock := newMockPostgres(t)
	r := civicResolution(t)
	r.Fields[0].Evidence = nil

	err := s.SaveResolution(context.Background(), r)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetResolutionRoundTrip(t *testing.T) {
	s, mock := newMockPostgres(t)
	resolvedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, year, make, model").
		WithArgs(2018, "honda", "civic").
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "year", "make", "model", "overall_confidence", "needs_review", "resolved_at"}).
			AddRow("res-1", 2018, "honda", "civic", 0.85, false, resolvedAt))
	mock.ExpectQuery("SELECT field, value, unit, confidence").
		WithArgs("res-1").
		WillReturnRows(pgxmock.NewRows(
			[]string{"field", "value", "unit", "confidence", "needs_review", "method"}).
			AddRow(model.FieldCurbWeight, "2875", "lbs", 0.9, false, "trimmed_median").
			AddRow(model.FieldAluminumRims, "true", "", 0.85, false, "majority"))
	mock.ExpectQuery("SELECT field, url, quote, value").
		WithArgs("res-1").
		WillReturnRows(pgxmock.NewRows(
			[]string{"field", "url", "quote", "value", "trust_weight"}).
			AddRow(model.FieldCurbWeight, "https://www.honda.com/specs", "Curb weight: 2,875 lbs", "2875", 1.0).
			AddRow(model.FieldAluminumRims, "https://www.honda.com/specs", "alloy wheels", "true", 1.0))

	got, err := s.GetResolution(context.Background(), civicQuery())
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "res-1", got.ID)
	require.Len(t, got.Fields, 2)
	weight := got.Field(model.FieldCurbWeight)
	require.NotNil(t, weight)
	assert.Equal(t, model.NumberValue(2875), weight.Value)
	require.Len(t, weight.Evidence, 1)
	assert.Equal(t, "https://www.honda.com/specs", weight.Evidence[0].URL)

	rims := got.Field(model.FieldAluminumRims)
	require.NotNil(t, rims)
	assert.Equal(t, model.BoolValue(true), rims.Value)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetMissReturnsNil(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery("SELECT id, year, make, model").
		WithArgs(2018, "honda", "civic").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetResolution(context.Background(), civicQuery())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListFiltersByReviewFlag(t *testing.T) {
	s, mock := newMockPostgres(t)
	resolvedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, year, make, model").
		WithArgs(true, 100).
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "year", "make", "model", "overall_confidence", "needs_review", "resolved_at"}).
			AddRow("res-1", 2018, "honda", "civic", 0.5, true, resolvedAt))
	mock.ExpectQuery("SELECT field, value, unit, confidence").
		WithArgs("res-1").
		WillReturnRows(pgxmock.NewRows(
			[]string{"field", "value", "unit", "confidence", "needs_review", "method"}).
			AddRow(model.FieldCatConverters, "unknown", "", 0.4, true, "mode_tie_unknown"))

	review := true
	got, err := s.ListResolutions(context.Background(), Filter{NeedsReview: &review})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].NeedsReview)

	cats := got[0].Field(model.FieldCatConverters)
	require.NotNil(t, cats)
	assert.False(t, cats.Value.Known)
	assert.Empty(t, cats.Evidence)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Migrate(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS resolutions").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
