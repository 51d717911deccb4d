package browser

import (
	"fmt"
	"strings"

	"github.com/lexcodex/codeanalysis/framework"
)

const systemPrompt = `Imagine you are a robot browsing the web, just like humans. Now you need to complete a task. In each iteration, you will receive an Observation that includes a screenshot of a webpage and some texts. This screenshot will feature Numerical Labels placed in the TOP LEFT corner of each Web Element. Carefully analyze the visual information to identify the Numerical Label corresponding to the Web Element that requires interaction, then follow the guidelines and choose one of the following actions:

1. Click a Web Element.
2. Delete existing content in a textbox and then type content.
3. Scroll up or down.
4. Wait
5. Go back
6. Return to google to start over.
7. Respond with the final answer

Correspondingly, Action should STRICTLY follow the format:

- Click [Numerical_Label]
- Type [Numerical_Label]; [Content]
- Scroll [Numerical_Label or WINDOW]; [up or down]
- Wait
- GoBack
- Google
- ANSWER; [content]

Key Guidelines You MUST follow:

* Action guidelines *
1) Execute only one action per iteration.
2) When clicking or typing, ensure to select the correct bounding box.
3) Numeric labels lie in the top-left corner of their corresponding bounding boxes and are colored the same.

* Web Browsing Guidelines *
1) Don't interact with useless web elements like Login, Sign-in, donation that appear in Webpages
2) Select strategically to minimize time wasted.

Your reply should strictly follow the format:

Thought: {Your brief thoughts (briefly summarize the info that will help ANSWER)}
Action: {One Action format you choose}
Then the User will provide:
Observation: {A labeled screenshot Given by User}`

// Scratchpad numbers the observations of executed actions.
type Scratchpad struct {
	text  string
	steps int
}

// Add appends the next numbered observation.
func (s *Scratchpad) Add(observation string) {
	if s.steps == 0 {
		s.text = "Previous action observations:\n"
	}
	s.steps++
	s.text += fmt.Sprintf("\n%d. %s", s.steps, observation)
}

// Len is the number of recorded observations.
func (s *Scratchpad) Len() int { return s.steps }

func (s *Scratchpad) String() string { return s.text }

func buildMessages(question string, page *Page, pad *Scratchpad) []framework.Message {
	messages := []framework.Message{{Role: "system", Content: systemPrompt}}
	if pad.Len() > 0 {
		messages = append(messages, framework.Message{Role: "system", Content: pad.String()})
	}
	var user strings.Builder
	user.WriteString(DescribeBBoxes(page.BBoxes))
	user.WriteString("\n")
	user.WriteString(question)
	messages = append(messages, framework.Message{
		Role:    "user",
		Content: user.String(),
		Images:  []string{page.Screenshot},
	})
	return messages
}
