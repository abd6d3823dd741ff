package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired    ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid     ErrCode = "TOKEN_INVALID"
	ErrShellAccessOnly  ErrCode = "SHELL_ACCESS_ONLY"
	ErrOverrideDisabled ErrCode = "PROCTOR_OVERRIDE_DISABLED"
	ErrInvalidOverride  ErrCode = "INVALID_PROCTOR_PASSWORD"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation        ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload    ErrCode = "INVALID_PAYLOAD"
	ErrMissingParameters ErrCode = "MISSING_PARAMETERS"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrSessionActive        ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrNoActiveSession      ErrCode = "NO_ACTIVE_SESSION"
	ErrSessionNotRunning    ErrCode = "SESSION_NOT_RUNNING"
	ErrUnknownQuestion      ErrCode = "UNKNOWN_QUESTION"
	ErrIndexOutOfRange      ErrCode = "INDEX_OUT_OF_RANGE"
	ErrWrongPhase           ErrCode = "WRONG_PHASE"
	ErrQuestionsUnavailable ErrCode = "QUESTIONS_UNAVAILABLE"
	ErrInvalidQuestionSet   ErrCode = "INVALID_QUESTION_SET"

	// ─── Submission queue ──────────────────────────────────────────────
	ErrQueueEntryNotFound ErrCode = "QUEUE_ENTRY_NOT_FOUND"
	ErrQueueEntryBusy     ErrCode = "QUEUE_ENTRY_BUSY"
	ErrSubmissionNotSaved ErrCode = "SUBMISSION_NOT_SAVED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrShellAccessOnly:
		return "Sumber daya ini terbatas untuk aplikasi ujian."
	case ErrOverrideDisabled:
		return "Kata sandi pengawas belum dikonfigurasi di perangkat ini."
	case ErrInvalidOverride:
		return "Kata sandi pengawas salah."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrMissingParameters:
		return "ID ujian, nomor referensi, dan batas waktu wajib diisi."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Exam session ──────────────────────────────────────────────────
	case ErrSessionActive:
		return "Ujian lain sedang berlangsung di perangkat ini."
	case ErrNoActiveSession:
		return "Tidak ada sesi ujian yang aktif."
	case ErrSessionNotRunning:
		return "Sesi ujian tidak sedang berjalan."
	case ErrUnknownQuestion:
		return "Soal tidak termasuk dalam ujian ini."
	case ErrIndexOutOfRange:
		return "Nomor soal di luar jangkauan."
	case ErrWrongPhase:
		return "Tindakan ini tidak tersedia pada tahap ujian saat ini."
	case ErrQuestionsUnavailable:
		return "Soal ujian tidak dapat dimuat. Periksa koneksi jaringan."
	case ErrInvalidQuestionSet:
		return "Paket soal kosong atau tidak valid."

	// ─── Submission queue ──────────────────────────────────────────────
	case ErrQueueEntryNotFound:
		return "Antrean pengumpulan tidak ditemukan."
	case ErrQueueEntryBusy:
		return "Antrean pengumpulan sedang dikirim."
	case ErrSubmissionNotSaved:
		return "Jawaban tidak dapat dikirim maupun disimpan. Jangan tutup aplikasi dan hubungi pengawas."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
