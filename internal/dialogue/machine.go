// Package dialogue tracks the progress of each call through the intake
// questions and decides what the assistant says next.
//
// A session moves through states 0..N where N is the number of questions.
// Recording an answer advances the state by exactly one; there is no
// skipping, no confirmation and no going back. State N is terminal.
package dialogue

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// missingAnswer is rendered in the summary for questions with no answer.
const missingAnswer = "N/A"

// closingLine is returned if a session somehow runs past the last question
// without being marked complete.
const closingLine = "Thank you for calling!"

// Machine is the intake state machine. It is safe for concurrent use; all
// per-call state lives in the Store.
type Machine struct {
	store     *Store
	questions []Question
	now       func() time.Time
}

// NewMachine creates a state machine over the given questions.
func NewMachine(store *Store, questions []Question) *Machine {
	return &Machine{
		store:     store,
		questions: questions,
		now:       time.Now,
	}
}

// Store returns the session store backing the machine.
func (m *Machine) Store() *Store {
	return m.store
}

// Questions returns the question list.
func (m *Machine) Questions() []Question {
	return m.questions
}

// GetOrCreate returns a copy of the session for callID, creating a fresh one
// (index 0, no answers, not completed) if the call has not been seen.
func (m *Machine) GetOrCreate(callID string) Session {
	var out Session
	m.store.with(callID, func(sess *Session) {
		out = sess.clone()
	})
	return out
}

// RecordAnswer stores text under key and advances the pending index by one.
// The key is not checked against the pending question. An answer already
// recorded for key is kept; the index advances regardless.
func (m *Machine) RecordAnswer(callID, key, text string) {
	m.store.with(callID, func(sess *Session) {
		m.recordAnswer(sess, key, text)
	})
}

// NextStep returns what the assistant should say next and whether the
// dialogue is over. It never changes the pending index.
func (m *Machine) NextStep(callID string) (string, bool) {
	var (
		text     string
		terminal bool
	)
	m.store.with(callID, func(sess *Session) {
		text, terminal = m.nextStep(sess)
	})
	return text, terminal
}

// Advance is one caller turn: the utterance is recorded against the pending
// question (if any remain) and the following step is returned. The record
// and the lookup happen under the same per-call lock.
func (m *Machine) Advance(callID, utterance string) (string, bool) {
	var (
		text     string
		terminal bool
	)
	m.store.with(callID, func(sess *Session) {
		sess.Turns++
		if sess.CurrentQuestion < len(m.questions) {
			m.recordAnswer(sess, m.questions[sess.CurrentQuestion].Key, utterance)
		} else {
			sess.UpdatedAt = m.now()
		}
		text, terminal = m.nextStep(sess)
	})
	return text, terminal
}

// CountTurn records a caller turn without touching the question state and
// returns the new turn count. Used when the persona holds an open
// conversation instead of asking questions.
func (m *Machine) CountTurn(callID string) int {
	var turns int
	m.store.with(callID, func(sess *Session) {
		sess.Turns++
		sess.UpdatedAt = m.now()
		turns = sess.Turns
	})
	return turns
}

func (m *Machine) recordAnswer(sess *Session, key, text string) {
	if _, exists := sess.Responses[key]; !exists {
		sess.Responses[key] = text
	}
	sess.CurrentQuestion++
	if sess.CurrentQuestion >= len(m.questions) {
		sess.Completed = true
	}
	sess.UpdatedAt = m.now()
}

func (m *Machine) nextStep(sess *Session) (string, bool) {
	if sess.Completed {
		return m.summary(sess), true
	}
	if sess.CurrentQuestion < len(m.questions) {
		return interpolate(m.questions[sess.CurrentQuestion].Prompt, sess.Responses), false
	}
	return closingLine, true
}

// summary reads back every answer in question order.
func (m *Machine) summary(sess *Session) string {
	title := cases.Title(language.English)
	parts := make([]string, 0, len(m.questions))
	for _, q := range m.questions {
		value, ok := sess.Responses[q.Key]
		if !ok {
			value = missingAnswer
		}
		parts = append(parts, readableKey(title, q.Key)+": "+value)
	}
	return "Perfect! I have all your information: " + strings.Join(parts, ", ") + ". Thank you!"
}

// readableKey turns a question key such as "date_of_birth" into
// "Date Of Birth".
func readableKey(title cases.Caser, key string) string {
	return title.String(strings.ReplaceAll(key, "_", " "))
}

// interpolate replaces {key} placeholders that have a recorded answer.
// Placeholders without an answer are left as they are.
func interpolate(prompt string, answers map[string]string) string {
	if len(answers) == 0 || !strings.Contains(prompt, "{") {
		return prompt
	}
	pairs := make([]string, 0, 2*len(answers))
	for key, value := range answers {
		pairs = append(pairs, "{"+key+"}", value)
	}
	// A single pass, so an answer that itself contains braces is never
	// expanded again.
	return strings.NewReplacer(pairs...).Replace(prompt)
}
