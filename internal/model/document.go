package model

import (
	"strings"
	"time"
)

// Status is the editing lifecycle state of a document.
type Status string

const (
	StatusReady   Status = "ready"
	StatusEditing Status = "editing"
	StatusSaving  Status = "saving"
)

// FileType is the lowercase extension of a stored document.
type FileType string

const (
	FileTypeDocx FileType = "docx"
	FileTypeDoc  FileType = "doc"
	FileTypeTxt  FileType = "txt"
	FileTypeXlsx FileType = "xlsx"
	FileTypeXls  FileType = "xls"
	FileTypeCsv  FileType = "csv"
	FileTypePptx FileType = "pptx"
	FileTypePpt  FileType = "ppt"
)

// DocumentType is the editor family a file type opens in.
type DocumentType string

const (
	DocumentTypeWord  DocumentType = "word"
	DocumentTypeCell  DocumentType = "cell"
	DocumentTypeSlide DocumentType = "slide"
)

var fileFamilies = map[FileType]DocumentType{
	FileTypeDocx: DocumentTypeWord,
	FileTypeDoc:  DocumentTypeWord,
	FileTypeTxt:  DocumentTypeWord,
	FileTypeXlsx: DocumentTypeCell,
	FileTypeXls:  DocumentTypeCell,
	FileTypeCsv:  DocumentTypeCell,
	FileTypePptx: DocumentTypeSlide,
	FileTypePpt:  DocumentTypeSlide,
}

// ParseFileType maps a file name or bare extension to a supported FileType.
func ParseFileType(name string) (FileType, bool) {
	ext := strings.ToLower(name)
	if i := strings.LastIndex(ext, "."); i >= 0 {
		ext = ext[i+1:]
	}
	ft := FileType(ext)
	_, ok := fileFamilies[ft]
	return ft, ok
}

// DocumentType returns the editor family for the file type. Unknown types
// open in the word editor.
func (f FileType) DocumentType() DocumentType {
	if dt, ok := fileFamilies[f]; ok {
		return dt
	}
	return DocumentTypeWord
}

var contentTypes = map[FileType]string{
	FileTypeDocx: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	FileTypeDoc:  "application/msword",
	FileTypeTxt:  "text/plain; charset=utf-8",
	FileTypeXlsx: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	FileTypeXls:  "application/vnd.ms-excel",
	FileTypeCsv:  "text/csv; charset=utf-8",
	FileTypePptx: "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	FileTypePpt:  "application/vnd.ms-powerpoint",
}

// ContentType is the MIME type served for the file type.
func (f FileType) ContentType() string {
	if ct, ok := contentTypes[f]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Document is the persistent record of a stored office file.
// This is a pure domain model with no database-specific dependencies or tags.
type Document struct {
	ID            string    `json:"id"`
	Key           string    `json:"key"`
	Title         string    `json:"title"`
	Filename      string    `json:"filename"`
	FileType      FileType  `json:"file_type"`
	StoragePath   string    `json:"-"`
	Version       int64     `json:"version"`
	Status        Status    `json:"status"`
	ActiveEditors []string  `json:"active_editors"`
	OwnerID       string    `json:"owner_id"`
	Size          int64     `json:"size"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DocumentPatch is a field-level update. Nil fields are left untouched.
type DocumentPatch struct {
	Title         *string
	Status        *Status
	ActiveEditors *[]string
	Size          *int64
}

// Empty reports whether the patch would change nothing.
func (p DocumentPatch) Empty() bool {
	return p.Title == nil && p.Status == nil && p.ActiveEditors == nil && p.Size == nil
}

// Apply merges the patch into doc in place.
func (p DocumentPatch) Apply(doc *Document) {
	if p.Title != nil {
		doc.Title = *p.Title
	}
	if p.Status != nil {
		doc.Status = *p.Status
	}
	if p.ActiveEditors != nil {
		doc.ActiveEditors = append([]string(nil), (*p.ActiveEditors)...)
	}
	if p.Size != nil {
		doc.Size = *p.Size
	}
}

// User is the authenticated identity forwarded by the upstream proxy.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
