package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// Kind はパイプライン操作の失敗を呼び出し側にどう伝えるかを表します。
type Kind int

const (
	// KindInternal はライブラリ呼び出し内部の予期しない失敗です (HTTP 5xx)。
	KindInternal Kind = iota
	// KindInput は呼び出し側の入力やステージ順序の誤りです (HTTP 4xx)。
	KindInput
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "InputError"
	default:
		return "InternalError"
	}
}

// パイプラインの入力エラーを識別するセンチネル。errors.Is で判定する。
var (
	ErrEmptyFile             = New("empty file")
	ErrUnsupportedFormat     = New("unsupported format")
	ErrParse                 = New("parse error")
	ErrNoDataset             = New("no dataset")
	ErrTargetColumnNotFound  = New("target column not found")
	ErrDegenerateTarget      = New("degenerate target")
	ErrNoFeatures            = New("no numeric features")
	ErrNonFiniteFeatures     = New("non-finite feature values")
	ErrPreprocessingRequired = New("preprocessing required")
	ErrSplitRequired         = New("split required")
	ErrInvalidModelType      = New("invalid model type")
	ErrInvalidSplitFraction  = New("invalid split fraction")
	ErrInvalidRequest        = New("invalid request")
)

var inputSentinels = []error{
	ErrEmptyFile,
	ErrUnsupportedFormat,
	ErrParse,
	ErrNoDataset,
	ErrTargetColumnNotFound,
	ErrDegenerateTarget,
	ErrNoFeatures,
	ErrNonFiniteFeatures,
	ErrPreprocessingRequired,
	ErrSplitRequired,
	ErrInvalidModelType,
	ErrInvalidSplitFraction,
	ErrInvalidRequest,
}

// PipelineError はパイプラインの1ステージ(upload, preprocess, split, train)が返すエラーです。
// Message は利用者向けの文言、Err は原因(センチネルまたは下位のエラー)です。
type PipelineError struct {
	Op      string
	Kind    Kind
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s failed", e.Op)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *PipelineError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("kind", e.Kind.String()).
		Str("message", e.Message).
		Str("type", "PipelineError")
	if e.Err != nil {
		event.Str("cause", e.Err.Error())
	}
}

// NewInputError は入力エラーを作成します。sentinel は errors.Is で判定できるように保持されます。
func NewInputError(op string, sentinel error, message string) error {
	return errors.WithStack(&PipelineError{Op: op, Kind: KindInput, Message: message, Err: sentinel})
}

// WrapInputError は下位のエラーを入力エラーとして包みます。
// 返されるエラーは errors.Is(err, sentinel) と errors.Is(err, cause) の両方を満たします。
func WrapInputError(op string, sentinel, cause error, message string) error {
	marked := errors.Mark(cause, sentinel)
	return errors.WithStack(&PipelineError{Op: op, Kind: KindInput, Message: message, Err: marked})
}

// NewInternalError はライブラリ内部の失敗を内部エラーとして包みます。
func NewInternalError(op string, cause error) error {
	return errors.WithStack(&PipelineError{
		Op:      op,
		Kind:    KindInternal,
		Message: fmt.Sprintf("Error %s: %v", op, cause),
		Err:     cause,
	})
}

// KindOf はエラーの種別を返します。PipelineError でなくても入力センチネルに該当すれば KindInput です。
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	for _, s := range inputSentinels {
		if errors.Is(err, s) {
			return KindInput
		}
	}
	return KindInternal
}

// UserMessage は利用者に返すメッセージを取り出します。
func UserMessage(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Error()
	}
	return err.Error()
}
