package claimsync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeSnakeCaseColumn(t *testing.T) {
	rec := NormalizeRow(RemoteRow{
		"local_key":          "a1",
		"tanggal_kecelakaan": "2024-01-01",
	})
	require.Equal(t, "a1", rec.ID)
	require.Equal(t, "2024-01-01", rec.TanggalKecelakaan)
}

func TestNormalizeAliasPriority(t *testing.T) {
	// Flat snake_case outranks the blob value for the same field.
	rec := NormalizeRow(RemoteRow{
		"local_key":          "a1",
		"tanggal_kecelakaan": "2024-01-01",
		"data":               `{"tanggal_kecelakaan":"1999-12-31","lokasi_kecelakaan":"Jalan Sudirman"}`,
	})
	require.Equal(t, "2024-01-01", rec.TanggalKecelakaan)
	// A field only present in the blob still resolves.
	require.Equal(t, "Jalan Sudirman", rec.LokasiKecelakaan)
}

func TestNormalizeCamelCaseFallback(t *testing.T) {
	rec := NormalizeRow(RemoteRow{
		"local_key":         "a1",
		"tanggalKecelakaan": "2024-02-02",
	})
	require.Equal(t, "2024-02-02", rec.TanggalKecelakaan)
}

func TestNormalizeEmptyFlatValueFallsThroughToBlob(t *testing.T) {
	rec := NormalizeRow(RemoteRow{
		"local_key":   "a1",
		"nama_korban": "",
		"payload":     map[string]any{"nama_korban": "Budi"},
	})
	require.Equal(t, "Budi", rec.NamaKorban)
}

func TestNormalizeStatusCoercion(t *testing.T) {
	cases := map[any]string{
		"in_review":   StatusInReview,
		"in-review":   StatusInReview,
		"done":        StatusDone,
		"rejected":    StatusRejected,
		"selesai":     StatusDone,
		"unknown-val": StatusSubmitted,
		nil:           StatusSubmitted,
		"":            StatusSubmitted,
	}
	for in, want := range cases {
		rec := NormalizeRow(RemoteRow{"local_key": "a1", "status": in})
		require.Equal(t, want, rec.Status, "status %v", in)
	}
}

func TestNormalizeTriStateBoolean(t *testing.T) {
	cases := []struct {
		in   any
		want TriBool
	}{
		{"ya", TriTrue},
		{"tidak", TriFalse},
		{"1", TriTrue},
		{"0", TriFalse},
		{true, TriTrue},
		{float64(0), TriFalse},
		{"", TriUnknown},
		{nil, TriUnknown},
		{"entah", TriUnknown},
	}
	for _, tc := range cases {
		rec := NormalizeRow(RemoteRow{"local_key": "a1", "ahli_waris_sesuai": tc.in})
		require.Equal(t, tc.want, rec.AhliWarisSesuai, "value %v", tc.in)
	}
}

func TestNormalizeSurrogateIDIsDeterministic(t *testing.T) {
	row := RemoteRow{
		"submission_time": "2024-03-01T10:00:00Z",
		"nomor_laporan":   "LP/123",
		"template":        "survei-luka",
	}
	a := NormalizeRow(row)
	b := NormalizeRow(row)
	require.NotEmpty(t, a.ID)
	require.Equal(t, a.ID, b.ID, "repeated normalization must yield the same surrogate")
	require.Equal(t, "2024-03-01T10:00:00Z|LP/123|survei-luka", a.ID)
}

func TestNormalizeFullCanonicalShape(t *testing.T) {
	rec := NormalizeRow(RemoteRow{"local_key": "a1"})
	require.NotNil(t, rec.Attachments, "missing collections come out empty, not nil")
	require.NotNil(t, rec.FotoSurvei)
	require.Equal(t, StatusSubmitted, rec.Status)
	require.Equal(t, TriUnknown, rec.AhliWarisSesuai)
}

func TestNormalizeChecklistFromJSONText(t *testing.T) {
	rec := NormalizeRow(RemoteRow{
		"local_key": "a1",
		"checklist": `{"lengkap":true,"valid":"ya","jelas":0}`,
	})
	require.NotNil(t, rec.Audit.Checklist)
	require.True(t, rec.Audit.Checklist.Lengkap)
	require.True(t, rec.Audit.Checklist.Valid)
	require.False(t, rec.Audit.Checklist.Jelas)
}

func TestNormalizeAttachmentShapes(t *testing.T) {
	rec := NormalizeRow(RemoteRow{
		"local_key": "a1",
		"attachments": map[string]any{
			"ktp":         []any{map[string]any{"name": "ktp.png", "url": "https://cdn.example/ktp.png"}},
			"kk":          "uploads/kk.png",
			"foto_survei": []any{"data:image/png;base64,AAAA"},
		},
	})
	require.Equal(t, "https://cdn.example/ktp.png", rec.Attachments["ktp"][0].URL)
	require.Equal(t, "uploads/kk.png", rec.Attachments["kk"][0].Path)
	require.Equal(t, "data:image/png;base64,AAAA", rec.Attachments["foto_survei"][0].Data)
}

func TestResolveTemplateKind(t *testing.T) {
	require.Equal(t, TemplateHospitalVisit, ResolveTemplateKind("form-kunjungan-rs", nil))
	require.Equal(t, TemplateSurveyFatal, ResolveTemplateKind("survei-meninggal-dunia", nil))
	require.Equal(t, TemplateSurveyInjury, ResolveTemplateKind("survei-luka", nil))
	require.Equal(t, TemplateSurveyInjury, ResolveTemplateKind("survei-lainnya", nil))
	require.Equal(t, TemplateUnknown, ResolveTemplateKind("formulir", nil))

	// Required-document heuristic: heir documents mark a fatal survey.
	withHeir := map[string][]AttachmentRef{DocAhliWaris: {{Name: "sk.pdf"}}}
	require.Equal(t, TemplateSurveyFatal, ResolveTemplateKind("formulir", withHeir))
}
