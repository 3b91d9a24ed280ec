package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjmach/pstconv/convert"
	"github.com/cjmach/pstconv/model"
	"github.com/cjmach/pstconv/model/modeltest"
	"github.com/cjmach/pstconv/store"
)

func fixture() *modeltest.Source {
	return &modeltest.Source{Top: &modeltest.Folder{
		Name: "Inicio do ficheiro de dados do Outlook",
		Children: []*modeltest.Folder{
			{
				Name: "Caixa de Entrada",
				Items: []*model.Message{
					{DescriptorID: 2097252, Subject: "Teste", Body: "Teste 23:34", SenderEmail: "abcd@as.pt", SubmitTime: time.Date(2016, 3, 14, 23, 34, 0, 0, time.UTC)},
					{DescriptorID: 2097316, Subject: "Segundo", Body: "dois"},
					{DescriptorID: 2097284, Subject: "Terceiro", BodyHTML: "<b>três</b>", Attachments: []*model.Attachment{modeltest.Attachment("a.txt", "text/plain", "abc")}},
				},
				Children: []*modeltest.Folder{
					{Name: "Arquivo", Items: []*model.Message{{DescriptorID: 42, Subject: "Velho"}}},
				},
			},
		},
	}}
}

func convertFixture(t *testing.T, format store.Format) string {
	t.Helper()

	input := filepath.Join(t.TempDir(), "mailbox.ost")
	require.NoError(t, os.WriteFile(input, []byte("!BDN"), 0o644))
	out := t.TempDir()

	src := fixture()
	res, err := convert.Run(convert.Options{
		Input:    input,
		Output:   out,
		Format:   format,
		Encoding: "UTF-8",
		Opener:   func(string) (model.Source, error) { return src, nil },
	})
	require.NoError(t, err)
	require.EqualValues(t, 4, res.MessageCount)
	return out
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []store.Format{store.FormatEML, store.FormatMBOX} {
		t.Run(string(format), func(t *testing.T) {
			out := convertFixture(t, format)

			ids, err := ExtractDescriptorIDs(out, format, "UTF-8")
			require.NoError(t, err)
			assert.Equal(t, []uint64{42, 2097252, 2097284, 2097316}, ids)

			report, err := Run(Options{Dir: out, Format: format, Encoding: "UTF-8"})
			require.NoError(t, err)
			assert.Equal(t, map[string]int{
				"Caixa de Entrada":         3,
				"Caixa de Entrada/Arquivo": 1,
			}, report.FolderCounts)
			assert.Zero(t, report.Untraced)
			assert.Empty(t, report.SkippedFolders)
		})
	}
}

func TestUntracedMessagesAreCounted(t *testing.T) {
	out := convertFixture(t, store.FormatEML)
	foreign := "From: x@example.com\r\nSubject: hand made\r\n\r\nbody\r\n"
	require.NoError(t, os.WriteFile(filepath.Join(out, "Caixa de Entrada", "zz-foreign.eml"), []byte(foreign), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(out, "Caixa de Entrada", "notes.txt"), []byte("ignored"), 0o644))

	report, err := Run(Options{Dir: out, Format: store.FormatEML, Encoding: "UTF-8"})
	require.NoError(t, err)
	assert.Len(t, report.IDs, 4)
	assert.Equal(t, 1, report.Untraced)
	assert.Equal(t, 4, report.FolderCounts["Caixa de Entrada"])
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := Run(Options{Dir: filepath.Join(dir, "missing"), Format: store.FormatEML, Encoding: "UTF-8"})
	assert.Error(t, err)

	_, err = Run(Options{Dir: file, Format: store.FormatEML, Encoding: "UTF-8"})
	assert.Error(t, err)

	_, err = Run(Options{Dir: dir, Format: store.FormatEML, Encoding: "klingon-8"})
	assert.Error(t, err)

	_, err = Run(Options{Dir: dir, Format: store.FormatIMAP, Encoding: "UTF-8"})
	assert.ErrorIs(t, err, store.ErrUnsupported)

	_, err = Run(Options{Dir: dir, Format: store.Format("maildir"), Encoding: "UTF-8"})
	assert.ErrorIs(t, err, store.ErrUnknownFormat)
}

func TestEmptyTree(t *testing.T) {
	ids, err := ExtractDescriptorIDs(t.TempDir(), store.FormatMBOX, "UTF-8")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRunContinuesPastUnreadableFolder(t *testing.T) {
	out := convertFixture(t, store.FormatMBOX)
	require.NoError(t, os.WriteFile(filepath.Join(out, "Broken"), []byte("garbage\n"), 0o644))

	report, err := Run(Options{Dir: out, Format: store.FormatMBOX, Encoding: "UTF-8"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Broken"}, report.SkippedFolders)
	assert.Equal(t, []uint64{42, 2097252, 2097284, 2097316}, report.IDs)
	assert.NotContains(t, report.FolderCounts, "Broken")
}
