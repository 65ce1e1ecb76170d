package service

import (
	"context"
	"strings"

	"passvault/internal/entity"
	"passvault/internal/repository"
	"passvault/internal/utils"
)

const SecurityQuestionCount = 3

var securityQuestionCatalogue = []string{
	"What is the name of your first pet?",
	"What is the name of the street you grew up on?",
	"What was your childhood nickname?",
	"What was the make and model of your first car?",
	"What is the name of your favorite childhood teacher?",
	"What city were you born in?",
	"What is your mother's maiden name?",
	"What is the name of your best friend from childhood?",
	"What was the name of your elementary or primary school?",
	"What is the name of your favorite childhood book or movie?",
}

// SecurityQuestionCatalogue lists the questions clients offer for selection.
func SecurityQuestionCatalogue() []string {
	out := make([]string, len(securityQuestionCatalogue))
	copy(out, securityQuestionCatalogue)
	return out
}

// SecurityQuestionVault stores three recovery question/answer pairs per user.
// Answers are normalised and hashed; comparison is positional.
type SecurityQuestionVault struct {
	users  repository.UserRepository
	hasher PasswordHasher
}

func NewSecurityQuestionVault(users repository.UserRepository, hasher PasswordHasher) *SecurityQuestionVault {
	return &SecurityQuestionVault{users: users, hasher: hasher}
}

func (v *SecurityQuestionVault) SetQuestions(ctx context.Context, userID string, pairs []entity.SecurityQA) error {
	if err := validateSecurityPairs(pairs); err != nil {
		return err
	}
	user, err := v.users.FindByID(ctx, userID)
	if err != nil {
		return internalError("find user", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	stored := make([]entity.SecurityQA, 0, len(pairs))
	for _, pair := range pairs {
		hash, err := v.hasher.Hash(utils.NormalizeAnswer(pair.Answer))
		if err != nil {
			return internalError("hash answer", err)
		}
		stored = append(stored, entity.SecurityQA{Question: strings.TrimSpace(pair.Question), Answer: hash})
	}
	if err := v.users.UpdateFields(ctx, userID, map[string]any{entity.FieldSecurityInfo: stored}); err != nil {
		return internalError("store security info", err)
	}
	return nil
}

// Questions returns the stored question texts in their original order.
func (v *SecurityQuestionVault) Questions(user *entity.User) []string {
	questions := make([]string, 0, len(user.SecurityInfo))
	for _, pair := range user.SecurityInfo {
		questions = append(questions, pair.Question)
	}
	return questions
}

// VerifyAnswers requires the same cardinality as stored and a match at every
// index. Submitted question text, when present, must equal the stored
// question at that index.
func (v *SecurityQuestionVault) VerifyAnswers(user *entity.User, submitted []entity.SecurityQA) bool {
	if len(user.SecurityInfo) != SecurityQuestionCount || len(submitted) != len(user.SecurityInfo) {
		return false
	}
	matched := true
	for i, stored := range user.SecurityInfo {
		pair := submitted[i]
		if strings.TrimSpace(pair.Question) != "" &&
			!strings.EqualFold(strings.TrimSpace(pair.Question), strings.TrimSpace(stored.Question)) {
			matched = false
		}
		answer := utils.NormalizeAnswer(pair.Answer)
		// No early exit: every index is checked.
		if answer == "" || !v.hasher.Verify(stored.Answer, answer) {
			matched = false
		}
	}
	return matched
}

func validateSecurityPairs(pairs []entity.SecurityQA) error {
	if len(pairs) != SecurityQuestionCount {
		return validationError("securityInfo", "exactly 3 security questions are required")
	}
	seen := make(map[string]struct{}, len(pairs))
	for _, pair := range pairs {
		question := strings.TrimSpace(pair.Question)
		if question == "" {
			return validationError("securityInfo", "security question must not be empty")
		}
		if strings.TrimSpace(pair.Answer) == "" {
			return validationError("securityInfo", "security answer must not be empty")
		}
		key := strings.ToLower(question)
		if _, dup := seen[key]; dup {
			return validationError("securityInfo", "security questions must be distinct")
		}
		seen[key] = struct{}{}
	}
	return nil
}
