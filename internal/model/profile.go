package model

import "time"

// Role はプロフィールの権限ロールを表す。
type Role string

const (
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
)

// Valid はロールが定義済みの値かを返す。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// DefaultPrepCount はプロフィール作成時に付与される面接対策クレジット数。
const DefaultPrepCount = 5

// Profile はIdentityと1対1で対応するアプリケーション側のユーザー情報。
// College、Course、Year、ResumeURLは未設定の場合nil。
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	College   *string   `json:"college"`
	Course    *string   `json:"course"`
	Year      *string   `json:"year"`
	ResumeURL *string   `json:"resume_url"`
	PrepCount int       `json:"prep_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileUpdate はプロフィールの部分更新を表す。
// nilのフィールドは更新対象外。
// NULL許容カラム（College、Course、Year、ResumeURL）に空文字列を指定するとNULLに更新する。
type ProfileUpdate struct {
	Email     *string `json:"email,omitempty"`
	Name      *string `json:"name,omitempty"`
	Role      *Role   `json:"role,omitempty"`
	College   *string `json:"college,omitempty"`
	Course    *string `json:"course,omitempty"`
	Year      *string `json:"year,omitempty"`
	ResumeURL *string `json:"resume_url,omitempty"`
	PrepCount *int    `json:"prep_count,omitempty"`
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (u ProfileUpdate) IsEmpty() bool {
	return u.Email == nil && u.Name == nil && u.Role == nil &&
		u.College == nil && u.Course == nil && u.Year == nil &&
		u.ResumeURL == nil && u.PrepCount == nil
}

// Columns は更新対象のカラム名と値のマップを返す。
// NULL許容カラムの空文字列はnilに変換する。
func (u ProfileUpdate) Columns() map[string]any {
	cols := make(map[string]any)
	if u.Email != nil {
		cols["email"] = *u.Email
	}
	if u.Name != nil {
		cols["name"] = *u.Name
	}
	if u.Role != nil {
		cols["role"] = string(*u.Role)
	}
	if u.College != nil {
		cols["college"] = nullable(*u.College)
	}
	if u.Course != nil {
		cols["course"] = nullable(*u.Course)
	}
	if u.Year != nil {
		cols["year"] = nullable(*u.Year)
	}
	if u.ResumeURL != nil {
		cols["resume_url"] = nullable(*u.ResumeURL)
	}
	if u.PrepCount != nil {
		cols["prep_count"] = *u.PrepCount
	}
	return cols
}

// Merge は部分更新をプロフィールに上書きした新しいProfileを返す。
// 更新に含まれないフィールドは元の値を維持する。
func (p Profile) Merge(u ProfileUpdate) Profile {
	if u.Email != nil {
		p.Email = *u.Email
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Role != nil {
		p.Role = *u.Role
	}
	if u.College != nil {
		p.College = optional(*u.College)
	}
	if u.Course != nil {
		p.Course = optional(*u.Course)
	}
	if u.Year != nil {
		p.Year = optional(*u.Year)
	}
	if u.ResumeURL != nil {
		p.ResumeURL = optional(*u.ResumeURL)
	}
	if u.PrepCount != nil {
		p.PrepCount = *u.PrepCount
	}
	return p
}

// IsAdmin はプロフィールのロールがadminの場合にのみtrueを返す。
// 管理者フラグは常にこの関数から導出し、独立した状態として保持しない。
func IsAdmin(p *Profile) bool {
	return p != nil && p.Role == RoleAdmin
}

// NewProfile はサインアップ直後に作成するプロフィールを生成する。
func NewProfile(identity Identity, name string, role Role, prepCount int, now time.Time) Profile {
	return Profile{
		ID:        identity.ID,
		Email:     identity.Email,
		Name:      name,
		Role:      role,
		PrepCount: prepCount,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StringPtr は文字列のポインタを返す。
func StringPtr(s string) *string {
	return &s
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
