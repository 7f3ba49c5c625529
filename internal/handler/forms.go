package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/inkpost/internal/model"
	"github.com/hitoshi/inkpost/internal/post"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// loginForm はログインフォームの入力値。
type loginForm struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required"`
}

// registerForm は新規登録フォームの入力値。
type registerForm struct {
	Email       string `validate:"required,email,max=254"`
	Password    string `validate:"required,min=6,max=72"`
	Username    string `validate:"required,min=3,max=32"`
	DisplayName string `validate:"max=64"`
}

// postForm は記事作成・編集フォームの入力値。
// タイトルの前後空白の除去と長さの上限はpost.Serviceでも検証する。
type postForm struct {
	Title   string `validate:"required,max=200"`
	Content string
	Status  string `validate:"omitempty,oneof=draft published"`
}

// fieldLabels はエラーメッセージに表示する項目名。
var fieldLabels = map[string]string{
	"Email":       "メールアドレス",
	"Password":    "パスワード",
	"Username":    "ユーザー名",
	"DisplayName": "表示名",
	"Title":       "タイトル",
	"Status":      "公開状態",
}

// parseFormBody はフォーム本文を解析する。本文の上限超過は413のエラーに変換する。
func parseFormBody(r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return model.NewPayloadTooLargeError(maxBytesErr.Limit)
		}
		return model.NewValidationError("送信内容を読み取れませんでした。")
	}
	return nil
}

func parseLoginForm(r *http.Request) (loginForm, error) {
	if err := parseFormBody(r); err != nil {
		return loginForm{}, err
	}
	return loginForm{
		Email:    strings.TrimSpace(r.PostForm.Get("email")),
		Password: r.PostForm.Get("password"),
	}, nil
}

func parseRegisterForm(r *http.Request) (registerForm, error) {
	if err := parseFormBody(r); err != nil {
		return registerForm{}, err
	}
	return registerForm{
		Email:       strings.TrimSpace(r.PostForm.Get("email")),
		Password:    r.PostForm.Get("password"),
		Username:    strings.TrimSpace(r.PostForm.Get("username")),
		DisplayName: strings.TrimSpace(r.PostForm.Get("display_name")),
	}, nil
}

func parsePostForm(r *http.Request) (postForm, error) {
	if err := parseFormBody(r); err != nil {
		return postForm{}, err
	}
	return postForm{
		Title:   strings.TrimSpace(r.PostForm.Get("title")),
		Content: r.PostForm.Get("content"),
		Status:  r.PostForm.Get("status"),
	}, nil
}

func (f postForm) edit() post.Edit {
	return post.Edit{
		Title:   f.Title,
		Content: f.Content,
		Status:  model.PostStatus(f.Status),
	}
}

func (f postForm) values(slug string) FormValues {
	return FormValues{Slug: slug, Title: f.Title, Content: f.Content, Status: f.Status}
}

// validateForm はフォームを検証し、最初の違反を入力値エラーとして返す。
func validateForm(form any) error {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("failed to validate form: %w", err)
	}
	return model.NewValidationError(validationMessage(verrs[0]))
}

// validationMessage は検証エラーを表示用のメッセージに変換する。
func validationMessage(fe validator.FieldError) string {
	label, ok := fieldLabels[fe.Field()]
	if !ok {
		label = fe.Field()
	}
	switch fe.Tag() {
	case "required":
		return label + "を入力してください。"
	case "email":
		return label + "の形式が正しくありません。"
	case "min":
		return fmt.Sprintf("%sは%s文字以上で入力してください。", label, fe.Param())
	case "max":
		return fmt.Sprintf("%sは%s文字以内で入力してください。", label, fe.Param())
	case "oneof":
		return label + "の値が正しくありません。"
	default:
		return label + "が正しくありません。"
	}
}
