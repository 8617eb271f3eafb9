package patient

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/medsupply/portal/internal/platform/auth"
)

// Patient is the subset of the patients table the scoring engine reads.
type Patient struct {
	ID                 string     `db:"id" json:"id"`
	UserID             string     `db:"user_id" json:"user_id"`
	FirstName          *string    `db:"first_name" json:"first_name,omitempty"`
	LastName           *string    `db:"last_name" json:"last_name,omitempty"`
	DOB                *time.Time `db:"dob" json:"dob,omitempty"`
	Sex                *string    `db:"sex" json:"sex,omitempty"`
	Phone              *string    `db:"phone" json:"phone,omitempty"`
	Address            *string    `db:"address" json:"address,omitempty"`
	City               *string    `db:"city" json:"city,omitempty"`
	State              *string    `db:"state" json:"state,omitempty"`
	Zip                *string    `db:"zip" json:"zip,omitempty"`
	InsuranceProvider  *string    `db:"insurance_provider" json:"insurance_provider,omitempty"`
	InsuranceMemberID  *string    `db:"insurance_member_id" json:"insurance_member_id,omitempty"`
	InsuranceGroupID   *string    `db:"insurance_group_id" json:"insurance_group_id,omitempty"`
	IDCardPath         *string    `db:"id_card_path" json:"-"`
	IDCardMime         *string    `db:"id_card_mime" json:"-"`
	InsCardPath        *string    `db:"ins_card_path" json:"-"`
	InsCardMime        *string    `db:"ins_card_mime" json:"-"`
	NotesPath          *string    `db:"notes_path" json:"-"`
	NotesMime          *string    `db:"notes_mime" json:"-"`
	ApprovalScoreColor *string    `db:"approval_score_color" json:"approval_score_color,omitempty"`
	ApprovalScoreAt    *time.Time `db:"approval_score_at" json:"approval_score_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// DocumentType names the uploads the scorer knows about.
type DocumentType string

const (
	DocPhotoID       DocumentType = "Photo ID"
	DocInsuranceCard DocumentType = "Insurance Card"
	DocClinicalNotes DocumentType = "Clinical Notes"
)

// Document is a reference to an uploaded file. The engine never stores
// uploads itself.
type Document struct {
	Type     DocumentType `json:"type"`
	Filename string       `json:"filename"`
	Path     string       `json:"-"`
	Mime     string       `json:"mime"`
}

// IsImage reports whether the document is a picture rather than text.
func (d Document) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(d.Mime), "image/")
}

// IsText reports whether the document can be excerpted as plain text.
func (d Document) IsText() bool {
	return strings.HasPrefix(strings.ToLower(d.Mime), "text/")
}

// Documents lists the uploads present on the patient record.
func (p *Patient) Documents() []Document {
	var docs []Document
	add := func(t DocumentType, path, mime *string) {
		if isBlank(path) {
			return
		}
		m := "unknown"
		if !isBlank(mime) {
			m = *mime
		}
		docs = append(docs, Document{Type: t, Filename: filepath.Base(*path), Path: *path, Mime: m})
	}
	add(DocPhotoID, p.IDCardPath, p.IDCardMime)
	add(DocInsuranceCard, p.InsCardPath, p.InsCardMime)
	add(DocClinicalNotes, p.NotesPath, p.NotesMime)
	return docs
}

// HasBasicInfo is true when name and date of birth are filled in.
func (p *Patient) HasBasicInfo() bool {
	return !isBlank(p.FirstName) && !isBlank(p.LastName) && p.DOB != nil
}

// ShouldAutoScore reports whether the record is complete enough for an
// unattended score: basic info plus either an insurer or an insurance card.
func (p *Patient) ShouldAutoScore() bool {
	return p.HasBasicInfo() && (!isBlank(p.InsuranceProvider) || !isBlank(p.InsCardPath))
}

// AccessibleBy allows the owning practitioner and admins.
func (p *Patient) AccessibleBy(a auth.Actor) bool {
	return a.IsAdmin() || (a.ID != "" && a.ID == p.UserID)
}

// FullName joins first and last name, skipping blanks.
func (p *Patient) FullName() string {
	var parts []string
	for _, s := range []*string{p.FirstName, p.LastName} {
		if !isBlank(s) {
			parts = append(parts, strings.TrimSpace(*s))
		}
	}
	return strings.Join(parts, " ")
}

// Age in whole years at now, or -1 when DOB is unknown.
func (p *Patient) Age(now time.Time) int {
	if p.DOB == nil {
		return -1
	}
	dob := *p.DOB
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
