package templates

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
	"github.com/aouyang1/pimmich/store"
)

const style = `body{font-family:sans-serif;margin:2em;color:#222}
table{border-collapse:collapse}td,th{padding:.3em .8em;text-align:left;border-bottom:1px solid #ddd}
.run-ok{color:#2a7a2a}.run-failed,.step-failed{color:#b00020}.run-running{color:#a06000}
.step-changed{font-weight:bold}.step-unchanged{color:#777}`

// StatusPage renders the latest install run. run may be nil when nothing ran yet.
func StatusPage(run *store.Run, steps []store.StepRecord) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>Pimmich setup</title><style>`)
		p.raw(style)
		p.raw(`</style></head><body><h1>Pimmich setup</h1>`)

		if run == nil {
			p.raw(`<p>No install has run on this frame yet. Run <code>pimmich-setup install</code>.</p>`)
			p.raw(`</body></html>`)
			return p.err
		}

		p.raw(`<p>Run <code>`)
		p.text(run.ID)
		p.raw(`</code> started `)
		p.text(formatTime(run.StartedAt))
		p.raw(`: <span class="`)
		p.text(runClass(run.Status))
		p.raw(`">`)
		p.text(run.Status)
		p.raw(`</span>`)
		if run.DryRun {
			p.raw(` (dry run)`)
		}
		p.raw(`</p>`)
		if run.Error != "" {
			p.raw(`<p class="run-failed">`)
			p.text(run.Error)
			p.raw(`</p>`)
		}

		p.raw(`<table><thead><tr><th>#</th><th>step</th><th>outcome</th><th>duration</th><th>detail</th></tr></thead><tbody>`)
		for _, s := range steps {
			p.raw(`<tr class="`)
			p.text(outcomeClass(s.Outcome))
			p.raw(`"><td>`)
			p.text(fmt.Sprint(s.Seq + 1))
			p.raw(`</td><td>`)
			p.text(s.Name)
			p.raw(`</td><td>`)
			p.text(s.Outcome)
			p.raw(`</td><td>`)
			p.text(formatDuration(s.Duration))
			p.raw(`</td><td>`)
			if s.Error != "" {
				p.text(s.Error)
			} else {
				p.text(s.Message)
			}
			p.raw(`</td></tr>`)
		}
		p.raw(`</tbody></table></body></html>`)
		return p.err
	})
}

// printer stops writing after the first error
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) raw(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s)
}

func (p *printer) text(s string) {
	p.raw(templ.EscapeString(s))
}
