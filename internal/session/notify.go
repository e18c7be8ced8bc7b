package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Lllllllleong/accreditationplan/internal/hierarchy"
	"github.com/Lllllllleong/accreditationplan/internal/models"
	"github.com/Lllllllleong/accreditationplan/internal/sheet"
	"github.com/Lllllllleong/accreditationplan/internal/store"
	"github.com/Lllllllleong/accreditationplan/internal/textgen"
)

// FieldAPIKey is the Notice field for credential problems.
const FieldAPIKey = "apiKey"

// User-facing messages.
const (
	MsgCannotProcess     = "File tidak dapat diproses: tidak ditemukan kolom kode atau baris dengan kode yang valid (minimal 4 segmen, misalnya 1.1.1.1)."
	MsgUnsupportedFormat = "Format file tidak didukung. Unggah file .xlsx atau .csv."
	MsgUnreadable        = "File tidak dapat dibaca. Pastikan file tidak rusak."
	MsgNoRows            = "File tidak berisi baris data."
	MsgCredentialMissing = "API key Gemini belum diisi."
	MsgCredentialInvalid = "API key Gemini tidak valid. Periksa kembali API key Anda."
	MsgNetwork           = "Gagal terhubung ke layanan AI. Periksa koneksi internet Anda."
	MsgMalformed         = "Layanan AI tidak mengembalikan teks."
	MsgPersistFailed     = "Perubahan belum tersimpan ke server. Data tetap tersedia selama sesi ini."
	MsgLoadStoredFailed  = "Data tersimpan sebelumnya tidak dapat dimuat; file diproses tanpa penggabungan."
	MsgArchiveFailed     = "Salinan file tidak dapat diarsipkan."
	MsgNotFound          = "Rencana untuk file ini belum pernah disimpan."
	MsgNoPlan            = "Belum ada file yang diunggah."
	MsgStale             = "Proses dibatalkan karena file lain sedang dibuka."
)

// NoticeFor maps an error onto the message shown to the user.
func NoticeFor(err error) models.Notice {
	n := models.Notice{Level: models.LevelError}
	var remote *textgen.RemoteError
	switch {
	case errors.Is(err, sheet.ErrUnsupportedFormat):
		n.Message = MsgUnsupportedFormat
	case errors.Is(err, sheet.ErrNoRows):
		n.Message = MsgNoRows
	case errors.Is(err, sheet.ErrUnreadable):
		n.Message = MsgUnreadable
	case errors.Is(err, hierarchy.ErrNoCodeColumn), errors.Is(err, hierarchy.ErrNoUsableRows), errors.Is(err, ErrCannotProcess):
		n.Message = MsgCannotProcess
	case errors.Is(err, textgen.ErrCredentialMissing):
		n.Message, n.Field = MsgCredentialMissing, FieldAPIKey
	case errors.Is(err, textgen.ErrCredentialInvalid):
		n.Message, n.Field = MsgCredentialInvalid, FieldAPIKey
	case errors.Is(err, textgen.ErrNetwork):
		n.Message = MsgNetwork
	case errors.Is(err, textgen.ErrMalformedResponse):
		n.Message = MsgMalformed
	case errors.As(err, &remote):
		n.Message = fmt.Sprintf("Layanan AI mengembalikan kesalahan (HTTP %d): %s", remote.StatusCode, remote.Message)
	case errors.Is(err, store.ErrNotFound):
		n.Message = MsgNotFound
	case errors.Is(err, ErrNoPlan):
		n.Message = MsgNoPlan
	case errors.Is(err, ErrStale):
		n.Level, n.Message = models.LevelInfo, MsgStale
	default:
		n.Message = "Terjadi kesalahan: " + err.Error()
	}
	return n
}

// maxNotices bounds the queue when nobody drains it.
const maxNotices = 50

// Notifier is the single place user-visible messages go through. Notices
// queue until Drain is called.
type Notifier struct {
	mu      sync.Mutex
	notices []models.Notice
	log     *slog.Logger
}

func NewNotifier(log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{log: log}
}

func (n *Notifier) Notify(notice models.Notice) {
	n.log.Info("User notice.", "level", notice.Level, "message", notice.Message, "field", notice.Field)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	if over := len(n.notices) - maxNotices; over > 0 {
		n.notices = append([]models.Notice(nil), n.notices[over:]...)
	}
}

func (n *Notifier) Error(err error) {
	n.Notify(NoticeFor(err))
}

func (n *Notifier) Warn(msg string) {
	n.Notify(models.Notice{Level: models.LevelWarning, Message: msg})
}

func (n *Notifier) Info(msg string) {
	n.Notify(models.Notice{Level: models.LevelInfo, Message: msg})
}

// Drain returns and clears the queued notices.
func (n *Notifier) Drain() []models.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.notices
	n.notices = nil
	return out
}
