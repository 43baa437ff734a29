package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/pkg/export"
	"github.com/noah-isme/academic-records-api/pkg/storage"
)

type datasetStub struct {
	dataset export.Dataset
	err     error
	calls   int
}

func (d *datasetStub) Dataset(ctx context.Context, reportType models.ReportType, params models.ReportJobParams) (export.Dataset, error) {
	d.calls++
	if d.err != nil {
		return export.Dataset{}, d.err
	}
	return d.dataset, nil
}

func newExportServiceForTest(t *testing.T, source datasetSource) (*ExportService, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	svc := NewExportService(source, store, signer, ExportConfig{APIPrefix: "/api/v1/", ResultTTL: time.Hour}, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC) }
	return svc, store
}

func rankingStub() *datasetStub {
	return &datasetStub{dataset: export.Dataset{
		Title:   "Student ranking",
		Headers: []string{"Position", "Name"},
		Rows:    [][]string{{"1", "Carla"}, {"2", "Davi"}},
	}}
}

func TestExportServiceGenerateCSV(t *testing.T) {
	svc, _ := newExportServiceForTest(t, rankingStub())
	job := &models.ReportJob{ID: "job-1", Type: models.ReportTypeRanking, Params: models.ReportJobParams{Format: models.ReportFormatCSV}}

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "job-1/ranking_all_20250601_093000.csv", result.RelativePath)
	assert.True(t, strings.HasPrefix(result.URL, "/api/v1/export/"))
	assert.Equal(t, result.Token, extractToken(result.URL))

	claims, err := svc.ParseToken(result.Token, false)
	require.NoError(t, err)
	assert.Equal(t, "job-1", claims.JobID)

	file, err := svc.Open(result.RelativePath)
	require.NoError(t, err)
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	require.NoError(t, file.Close())
	assert.Equal(t, "Position,Name\n1,Carla\n2,Davi\n", string(data))

	require.NoError(t, svc.Delete(result.RelativePath))
	_, err = svc.Open(result.RelativePath)
	assert.Error(t, err)
}

func TestExportServiceGeneratePDF(t *testing.T) {
	svc, _ := newExportServiceForTest(t, rankingStub())
	job := &models.ReportJob{ID: "job-2", Type: models.ReportTypeSection, Params: models.ReportJobParams{Format: models.ReportFormatPDF, SectionID: "S 1/a"}}

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "job-2/section_S_1-a_20250601_093000.pdf", result.RelativePath)

	file, err := svc.Open(result.RelativePath)
	require.NoError(t, err)
	defer file.Close() //nolint:errcheck
	head := make([]byte, 4)
	_, err = io.ReadFull(file, head)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("%PDF"), head))
}

func TestExportServiceGenerateErrors(t *testing.T) {
	source := rankingStub()
	svc, _ := newExportServiceForTest(t, source)

	_, err := svc.Generate(context.Background(), &models.ReportJob{ID: "job-3", Type: models.ReportTypeRanking, Params: models.ReportJobParams{Format: "xlsx"}})
	require.Error(t, err)
	assert.Equal(t, 0, source.calls)

	source.err = errors.New("db down")
	_, err = svc.Generate(context.Background(), &models.ReportJob{ID: "job-3", Type: models.ReportTypeRanking, Params: models.ReportJobParams{Format: models.ReportFormatCSV}})
	assert.EqualError(t, err, "db down")

	_, err = svc.Generate(context.Background(), nil)
	assert.Error(t, err)
}

func TestExportServiceCleanupUsesResultTTL(t *testing.T) {
	svc, _ := newExportServiceForTest(t, rankingStub())
	_, err := svc.Generate(context.Background(), &models.ReportJob{ID: "job-4", Type: models.ReportTypeRanking, Params: models.ReportJobParams{Format: models.ReportFormatCSV}})
	require.NoError(t, err)

	removed, err := svc.Cleanup(0)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.Equal(t, time.Hour, svc.ResultTTL())
}
