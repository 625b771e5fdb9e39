package notify

import (
	"log/slog"
	"strconv"
	"strings"
)

type message struct {
	Subject string
	Body    string
	Tag     string
}

var subjects = map[string]string{
	KindQueueJoined:     "You've joined {queue_name} - Position #{position}",
	KindTurnApproaching: "Your turn is approaching - {queue_name}",
	KindYourTurn:        "IT'S YOUR TURN - {queue_name}",
}

var bodies = map[string]string{
	KindQueueJoined:     "Hi {holder_name}, you are #{position} in {queue_name}. Estimated wait: {estimated_wait} min.",
	KindTurnApproaching: "Hi {holder_name}, you are #{position} in {queue_name} with {people_ahead} {people_word} ahead.",
	KindYourTurn:        "Hi {holder_name}, please proceed to {queue_name} now. Position #{position}.",
}

var pushTitles = map[string]string{
	KindQueueJoined:     "Queue Joined Successfully!",
	KindTurnApproaching: "Your turn is approaching!",
	KindYourTurn:        "IT'S YOUR TURN!",
}

var pushBodies = map[string]string{
	KindQueueJoined:     "{queue_name}: Your position is #{position}",
	KindTurnApproaching: "{queue_name}: You are #{position} with {people_ahead} {people_word} ahead",
	KindYourTurn:        "Please proceed to {queue_name} immediately!",
}

var tags = map[string]string{
	KindQueueJoined:     "queue-joined",
	KindTurnApproaching: "turn-approaching",
	KindYourTurn:        "your-turn",
}

func emailMessage(event Event) message {
	return message{
		Subject: renderTemplate(subjects[event.Kind], event),
		Body:    renderTemplate(bodies[event.Kind], event),
		Tag:     tags[event.Kind],
	}
}

func pushMessage(event Event) message {
	return message{
		Subject: pushTitles[event.Kind],
		Body:    renderTemplate(pushBodies[event.Kind], event),
		Tag:     tags[event.Kind],
	}
}

func renderTemplate(template string, event Event) string {
	if template == "" {
		slog.Warn("notify missing template", "kind", event.Kind)
		return ""
	}
	people := "people"
	if event.PeopleAhead == 1 {
		people = "person"
	}
	replacer := strings.NewReplacer(
		"{queue_name}", event.QueueName,
		"{holder_name}", event.HolderName,
		"{position}", strconv.Itoa(event.Position),
		"{people_ahead}", strconv.Itoa(event.PeopleAhead),
		"{people_word}", people,
		"{estimated_wait}", strconv.Itoa(event.EstimatedWait),
	)
	return replacer.Replace(template)
}
