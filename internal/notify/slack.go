package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"escalens/internal/config"
	"escalens/internal/domain"
	"escalens/internal/logger"
	"escalens/internal/pipeline"
)

// Slack posts each run's digest to the configured channel as one message.
type Slack struct {
	api     *slack.Client
	channel string
	name    string
	log     *logger.Logger
}

func NewSlack(cfg config.Config) *Slack {
	return &Slack{
		api:     slack.New(cfg.SlackBotToken),
		channel: cfg.SlackChannelID,
		name:    cfg.ReportName,
		log:     logger.New(),
	}
}

func (s *Slack) Publish(ctx context.Context, res *pipeline.Result) error {
	msg := BuildMessage(s.name, res)
	_, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(msg, false))
	if err != nil {
		return fmt.Errorf("posting to slack channel %s: %w", s.channel, err)
	}
	s.log.WithField("channel", s.channel).Info("digest posted to slack")
	return nil
}

// BuildMessage renders the run as Slack mrkdwn: header, both top-group
// lists, insights.
func BuildMessage(name string, res *pipeline.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "*Escalation Report: %s* (%s)\n", name, res.Run.Started.Format("2006-01-02"))
	fmt.Fprintf(&b, "Last %d days, threshold %d: %d of %d records qualified.\n\n",
		res.Run.DaysBack, res.Run.Threshold, res.Qualified, res.Total)

	writeGroupList(&b, "Top Issue Types", res.IssueGroups)
	writeGroupList(&b, "Top Root Causes", res.RootGroups)

	b.WriteString("*Insights*\n")
	b.WriteString(strings.TrimSpace(res.Narrative))
	return b.String()
}

func writeGroupList(b *strings.Builder, heading string, groups []domain.GroupSummary) {
	fmt.Fprintf(b, "*%s*\n", heading)
	if len(groups) == 0 {
		b.WriteString("No qualified records in the window.\n\n")
		return
	}
	for _, g := range groups {
		fmt.Fprintf(b, "• %s: %d (avg %s)\n", g.Label, g.Count, domain.RawString(g.AvgConfidence))
	}
	b.WriteString("\n")
}
