package pipeline

import (
	"fmt"
	"strings"

	"coachwire/pkg/interfaces"
	"coachwire/pkg/types"
)

// buildContext assembles the message window for a turn: system prompt,
// the recent completed turns, then the new user input. window == 0 means
// all completed turns; maxTurns is the hard cap, truncating oldest first.
func buildContext(sess *types.Session, prior []*types.Turn, input string, window, maxTurns int) []interfaces.ChatMessage {
	completed := make([]*types.Turn, 0, len(prior))
	for _, t := range prior {
		if t.Status == types.TurnCompleted {
			completed = append(completed, t)
		}
	}

	limit := window
	if limit == 0 || limit > maxTurns {
		limit = maxTurns
	}
	if len(completed) > limit {
		completed = completed[len(completed)-limit:]
	}

	messages := make([]interfaces.ChatMessage, 0, 2*len(completed)+2)
	messages = append(messages, interfaces.ChatMessage{
		Role:    "system",
		Content: systemPrompt(sess),
	})
	for _, t := range completed {
		messages = append(messages,
			interfaces.ChatMessage{Role: "user", Content: t.UserInput},
			interfaces.ChatMessage{Role: "assistant", Content: t.SystemOutput},
		)
	}
	messages = append(messages, interfaces.ChatMessage{Role: "user", Content: input})
	return messages
}

func systemPrompt(sess *types.Session) string {
	if sess.Kind == types.KindLesson {
		return fmt.Sprintf(
			"You are a training coach teaching a lesson on %s. "+
				"Work through the lesson questions with the learner, explain "+
				"concepts clearly, and keep responses concise.",
			sess.Config.Topic)
	}
	return fmt.Sprintf(
		"You are a %s interviewer conducting an interview.\n"+
			"The job description is: %s\n\n"+
			"Your role is to ask relevant questions, evaluate the candidate's "+
			"responses, provide constructive feedback, and maintain a "+
			"professional and engaging conversation. Keep your responses "+
			"concise and focused on the interview context.",
		sess.Config.InterviewerType, sess.Config.JobDescription)
}

// currentQuestion selects the lesson question for the next exchange based on
// how many turns have completed so far.
func currentQuestion(sess *types.Session, prior []*types.Turn) string {
	completed := 0
	for _, t := range prior {
		if t.Status == types.TurnCompleted {
			completed++
		}
	}
	if completed < len(sess.Config.Questions) {
		return sess.Config.Questions[completed]
	}
	return ""
}

// analysisPrompt asks the model to grade a lesson response as JSON. The
// reply field carries the coach's spoken follow-up so analysis and response
// come back in one round-trip.
func analysisPrompt(sess *types.Session, question, response string) []interfaces.ChatMessage {
	var prompt strings.Builder
	prompt.WriteString("Analyze the following response to the training question.\n")
	if question != "" {
		fmt.Fprintf(&prompt, "Question: %s\n", question)
	} else {
		fmt.Fprintf(&prompt, "Topic: %s\n", sess.Config.Topic)
	}
	fmt.Fprintf(&prompt, "Response: %s\n\n", response)
	prompt.WriteString(`Reply with a JSON object only, with these fields:
{
  "correctness": number 0-100,
  "key_points_missed": [string],
  "suggestions": [string],
  "confidence_score": number 0-100,
  "reply": "your spoken coaching follow-up for the learner"
}`)

	return []interfaces.ChatMessage{
		{Role: "system", Content: "You are a training assistant analyzing responses. Respond with JSON only."},
		{Role: "user", Content: prompt.String()},
	}
}

// questionPrompt answers a clarifying question without entering the turn log.
func questionPrompt(sess *types.Session, question string) []interfaces.ChatMessage {
	topic := sess.Config.Topic
	if sess.Kind == types.KindInterview {
		topic = "the ongoing interview"
	}
	return []interfaces.ChatMessage{
		{Role: "system", Content: "You are a coaching assistant answering questions. Provide a clear, concise answer."},
		{Role: "user", Content: fmt.Sprintf("Answer the following question about %s:\n%s", topic, question)},
	}
}
