package narrative

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"storybook/internal/domain"
)

// StaticNarrator writes a fixed five-act story from the inputs without any
// network call. It backs local development when no text provider key exists.
type StaticNarrator struct {
	pages int
}

func NewStaticNarrator(pages int) *StaticNarrator {
	return &StaticNarrator{pages: pageCount(pages)}
}

var staticActs = []struct {
	narration string
	scene     string
}{
	{"%s was %d years old and loved %s stories more than anything.", "%s at home in a cozy bedroom, looking curious"},
	{"One evening %s noticed something unusual: %s.", "%s discovering something magical outside the window"},
	{"It was not easy at first, but %s took a deep breath and tried again.", "%s being brave on a winding path under the stars"},
	{"Friends gathered around, and together they found a way through.", "%s surrounded by friendly animals, smiling"},
	{"That night %s fell asleep knowing that small hearts can do big things.", "%s sleeping peacefully, moonlight through the curtains"},
}

func (s *StaticNarrator) Narrate(ctx context.Context, in domain.StoryInputs) ([]Beat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tag := language.Make(coalesce(in.Language, "en"))
	name := cases.Title(tag).String(strings.ToLower(coalesce(in.ChildName, "the child")))
	genre := strings.ToLower(coalesce(in.Genre, "bedtime"))
	about := coalesce(in.Description, "a small light was waiting to be found")

	beats := make([]Beat, s.pages)
	for i := range beats {
		act := staticActs[i%len(staticActs)]
		var narration string
		switch i % len(staticActs) {
		case 0:
			narration = fmt.Sprintf(act.narration, name, in.Age, genre)
		case 1:
			narration = fmt.Sprintf(act.narration, name, about)
		case 3:
			narration = act.narration
		default:
			narration = fmt.Sprintf(act.narration, name)
		}
		beats[i] = Beat{
			Narration:          truncateRunes(narration, domain.MaxNarrationRunes),
			IllustrationPrompt: fmt.Sprintf(act.scene, name),
		}
	}
	return beats, nil
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

var _ Narrator = (*StaticNarrator)(nil)
