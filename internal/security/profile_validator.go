package security

import (
	"path"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/hirescout/internal/model"
)

var yearPattern = regexp.MustCompile(`^[0-9]{4}$`)

// MaxProfileTextLength はprofilesのVARCHAR(255)カラムに保存できる文字数。
const MaxProfileTextLength = 255

// CheckTextLength はvalueがMaxProfileTextLength文字以内かを検証する。
func CheckTextLength(field, value string) error {
	if utf8.RuneCountInString(value) > MaxProfileTextLength {
		return model.NewInvalidRequestError(fmt.Sprintf("%s must be at most %d characters", field, MaxProfileTextLength))
	}
	return nil
}

// resumeExtensions は履歴書として受け付けるファイル拡張子。
var resumeExtensions = []string{".pdf", ".doc", ".docx"}

// ProfileValidator はユーザー自身によるプロフィール更新を検証・正規化する。
type ProfileValidator struct {
	sanitizer ContentSanitizer
	links     LinkGuard
}

// NewProfileValidator はProfileValidatorの新しいインスタンスを生成する。
func NewProfileValidator(sanitizer ContentSanitizer, links LinkGuard) *ProfileValidator {
	return &ProfileValidator{sanitizer: sanitizer, links: links}
}

// Normalize は更新内容を検証し、サニタイズ済みの更新を返す。
// ロール、クレジット数、メールアドレスはユーザー自身では変更できない。
func (v *ProfileValidator) Normalize(u model.ProfileUpdate) (model.ProfileUpdate, error) {
	if u.Role != nil || u.PrepCount != nil || u.Email != nil {
		return model.ProfileUpdate{}, model.NewInvalidRequestError("role, prep_count and email cannot be changed")
	}
	if u.IsEmpty() {
		return model.ProfileUpdate{}, model.NewEmptyProfileUpdateError()
	}

	out := model.ProfileUpdate{}
	if u.Name != nil {
		name := v.sanitizer.Text(*u.Name)
		if name == "" {
			return model.ProfileUpdate{}, model.NewInvalidRequestError("name must not be empty")
		}
		if err := CheckTextLength("name", name); err != nil {
			return model.ProfileUpdate{}, err
		}
		out.Name = &name
	}
	if u.College != nil {
		college := v.sanitizer.Text(*u.College)
		if err := CheckTextLength("college", college); err != nil {
			return model.ProfileUpdate{}, err
		}
		out.College = &college
	}
	if u.Course != nil {
		course := v.sanitizer.Text(*u.Course)
		if err := CheckTextLength("course", course); err != nil {
			return model.ProfileUpdate{}, err
		}
		out.Course = &course
	}
	if u.Year != nil {
		year := strings.TrimSpace(*u.Year)
		if year != "" && !yearPattern.MatchString(year) {
			return model.ProfileUpdate{}, model.NewInvalidYearError(year)
		}
		out.Year = &year
	}
	if u.ResumeURL != nil {
		ref := strings.TrimSpace(*u.ResumeURL)
		if err := v.validateResume(ref); err != nil {
			return model.ProfileUpdate{}, err
		}
		out.ResumeURL = &ref
	}
	return out, nil
}

func (v *ProfileValidator) validateResume(ref string) error {
	if ref == "" {
		return nil
	}
	if IsResumeLink(ref) {
		if err := v.links.ValidateURL(ref); err != nil {
			return model.NewInvalidResumeError(err.Error())
		}
		return nil
	}
	if strings.ContainsAny(ref, `/\`) || strings.HasPrefix(ref, ".") {
		return model.NewInvalidResumeError("file name must not contain a path")
	}
	ext := strings.ToLower(path.Ext(ref))
	for _, allowed := range resumeExtensions {
		if ext == allowed {
			return nil
		}
	}
	return model.NewInvalidResumeError("only PDF, DOC or DOCX files are accepted")
}

// IsResumeLink は履歴書の参照がファイル名ではなくURLかを返す。
func IsResumeLink(ref string) bool {
	return strings.Contains(ref, "://")
}
