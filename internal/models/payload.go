package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// RequestType тип заявки на изменение
type RequestType string

const (
	RequestAddMember    RequestType = "add_member"
	RequestRemoveMember RequestType = "remove_member"
	RequestMoveMember   RequestType = "move_member"
	RequestCreateTeam   RequestType = "create_team"
	RequestUpdateTeam   RequestType = "update_team"
	RequestDeleteTeam   RequestType = "delete_team"
)

// RequestTypes все поддерживаемые типы заявок
var RequestTypes = []RequestType{
	RequestAddMember,
	RequestRemoveMember,
	RequestMoveMember,
	RequestCreateTeam,
	RequestUpdateTeam,
	RequestDeleteTeam,
}

// Valid проверяет, что тип входит в известный набор
func (t RequestType) Valid() bool {
	for _, known := range RequestTypes {
		if t == known {
			return true
		}
	}
	return false
}

// DateLayout формат дат в details и в ответах API
const DateLayout = "2006-01-02"

// Payload типизированное содержимое заявки. Каждый тип заявки имеет свою структуру.
type Payload interface {
	Type() RequestType
}

// AddMember добавляет пользователя в команду
type AddMember struct {
	TeamID uuid.UUID
	UserID uuid.UUID
}

// RemoveMember завершает активное участие пользователя в команде
type RemoveMember struct {
	TeamID uuid.UUID
	UserID uuid.UUID
}

// MoveMember переводит пользователя между командами с указанной даты
type MoveMember struct {
	UserID     uuid.UUID
	FromTeamID uuid.UUID
	ToTeamID   uuid.UUID
	MoveDate   time.Time
}

// CreateTeam создает новую команду
type CreateTeam struct {
	Name        string
	Description string
}

// UpdateTeam частично обновляет команду: nil-поля не меняются
type UpdateTeam struct {
	TeamID      uuid.UUID
	Name        *string
	Description *string
}

// DeleteTeam удаляет команду
type DeleteTeam struct {
	TeamID uuid.UUID
}

func (AddMember) Type() RequestType    { return RequestAddMember }
func (RemoveMember) Type() RequestType { return RequestRemoveMember }
func (MoveMember) Type() RequestType   { return RequestMoveMember }
func (CreateTeam) Type() RequestType   { return RequestCreateTeam }
func (UpdateTeam) Type() RequestType   { return RequestUpdateTeam }
func (DeleteTeam) Type() RequestType   { return RequestDeleteTeam }

type moveMemberDetails struct {
	FromTeamID string `json:"from_team_id" validate:"required,uuid"`
	ToTeamID   string `json:"to_team_id" validate:"required,uuid,nefield=FromTeamID"`
	MoveDate   string `json:"move_date" validate:"required,datetime=2006-01-02"`
}

type createTeamDetails struct {
	Name        string  `json:"name" validate:"required,max=255"`
	Description *string `json:"description" validate:"required,max=2000"`
}

type updateTeamDetails struct {
	Name        *string `json:"name" validate:"required_without=Description,omitempty,min=1,max=255"`
	Description *string `json:"description" validate:"required_without=Name,omitempty,max=2000"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// В сообщениях об ошибках используем имена полей из json-тегов
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Встроенная проверка uuid не принимает верхний регистр, а uuid.Parse принимает
	if err := v.RegisterValidation("uuid", func(fl validator.FieldLevel) bool {
		_, err := uuid.Parse(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// Validate проверяет структуру по тегам validate и возвращает ErrValidation с описанием полей
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

// ParsePayload собирает типизированный вариант заявки из ссылок верхнего уровня и details.
// Возвращает ErrValidation для неизвестного типа или отсутствующих обязательных полей.
func ParsePayload(t RequestType, teamID, userID *uuid.UUID, details json.RawMessage) (Payload, error) {
	switch t {
	case RequestAddMember:
		if err := requireRefs(teamID, userID, true, true); err != nil {
			return nil, err
		}
		return AddMember{TeamID: *teamID, UserID: *userID}, nil

	case RequestRemoveMember:
		if err := requireRefs(teamID, userID, true, true); err != nil {
			return nil, err
		}
		return RemoveMember{TeamID: *teamID, UserID: *userID}, nil

	case RequestMoveMember:
		if err := requireRefs(teamID, userID, false, true); err != nil {
			return nil, err
		}
		var d moveMemberDetails
		if err := decodeDetails(details, &d); err != nil {
			return nil, err
		}
		moveDate, _ := time.Parse(DateLayout, d.MoveDate)
		from, to := uuid.MustParse(d.FromTeamID), uuid.MustParse(d.ToTeamID)
		// nefield сравнивает строки, а один UUID можно записать в разном регистре
		if from == to {
			return nil, fmt.Errorf("%w: to_team_id failed on 'nefield'", ErrValidation)
		}
		return MoveMember{
			UserID:     *userID,
			FromTeamID: from,
			ToTeamID:   to,
			MoveDate:   moveDate,
		}, nil

	case RequestCreateTeam:
		var d createTeamDetails
		if err := decodeDetails(details, &d); err != nil {
			return nil, err
		}
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name must not be blank", ErrValidation)
		}
		return CreateTeam{Name: name, Description: *d.Description}, nil

	case RequestUpdateTeam:
		if err := requireRefs(teamID, userID, true, false); err != nil {
			return nil, err
		}
		var d updateTeamDetails
		if err := decodeDetails(details, &d); err != nil {
			return nil, err
		}
		return UpdateTeam{TeamID: *teamID, Name: d.Name, Description: d.Description}, nil

	case RequestDeleteTeam:
		if err := requireRefs(teamID, userID, true, false); err != nil {
			return nil, err
		}
		return DeleteTeam{TeamID: *teamID}, nil
	}
	return nil, fmt.Errorf("%w: unknown request_type %q", ErrValidation, t)
}

func requireRefs(teamID, userID *uuid.UUID, needTeam, needUser bool) error {
	if needTeam && (teamID == nil || *teamID == uuid.Nil) {
		return fmt.Errorf("%w: team_id is required", ErrValidation)
	}
	if needUser && (userID == nil || *userID == uuid.Nil) {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	return nil
}

func decodeDetails(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("%w: details must be an object", ErrValidation)
	}
	if err := json.Unmarshal(trimmed, dst); err != nil {
		return fmt.Errorf("%w: malformed details: %v", ErrValidation, err)
	}
	return Validate(dst)
}
