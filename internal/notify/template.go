package notify

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/masslabs/passport/internal/models"
)

// TemplateData 模板变量
type TemplateData struct {
	WorkshopName string
	OwnerName    string
	Make         string
	Model        string
	Year         int
	LicensePlate string
	Service      string
	DueMileage   string
	DueDate      string
	Overdue      bool
	Mileage      int64
}

// Template 单个触发类型的主题与正文模板
type Template struct {
	Subject string
	Body    string
}

var defaultTemplates = map[models.TriggerType]Template{
	models.TriggerServiceDue: {
		Subject: "{{.Service}} {{if .Overdue}}overdue{{else}}due soon{{end}} for {{.Make}} {{.Model}}",
		Body: "Hi {{.OwnerName}}, your {{.Make}} {{.Model}}{{if .LicensePlate}} ({{.LicensePlate}}){{end}} " +
			"{{if .Overdue}}is overdue for{{else}}will soon be due for{{end}} {{.Service}}" +
			"{{if .DueMileage}} at {{.DueMileage}} km{{end}}{{if .DueDate}}{{if .DueMileage}} or{{end}} by {{.DueDate}}{{end}}. " +
			"Reply or call {{.WorkshopName}} to book.",
	},
	models.TriggerRegistrationExpiry: {
		Subject: "Vehicle registration {{if .Overdue}}expired{{else}}expiring{{end}}: {{.Make}} {{.Model}}",
		Body: "Hi {{.OwnerName}}, the registration for your {{.Make}} {{.Model}}{{if .LicensePlate}} ({{.LicensePlate}}){{end}} " +
			"{{if .DueDate}}{{if .Overdue}}expired on{{else}}expires on{{end}} {{.DueDate}}{{else}}has no expiry date on file{{end}}. " +
			"{{.WorkshopName}} can help you renew.",
	},
	models.TriggerInsuranceExpiry: {
		Subject: "Insurance {{if .Overdue}}expired{{else}}expiring{{end}}: {{.Make}} {{.Model}}",
		Body: "Hi {{.OwnerName}}, the insurance for your {{.Make}} {{.Model}}{{if .LicensePlate}} ({{.LicensePlate}}){{end}} " +
			"{{if .DueDate}}{{if .Overdue}}expired on{{else}}expires on{{end}} {{.DueDate}}{{else}}has no expiry date on file{{end}}. " +
			"Please renew to stay covered. {{.WorkshopName}}",
	},
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

// Renderer 通知模板渲染
type Renderer struct {
	workshop  string
	templates map[models.TriggerType]compiled
}

// NewRenderer 编译模板，overrides 中的模板覆盖默认模板
func NewRenderer(workshop string, overrides map[models.TriggerType]Template) (*Renderer, error) {
	r := &Renderer{workshop: workshop, templates: make(map[models.TriggerType]compiled)}

	for trigger, tpl := range defaultTemplates {
		if o, ok := overrides[trigger]; ok {
			tpl = o
		}
		subject, err := template.New(string(trigger) + ".subject").Option("missingkey=error").Parse(tpl.Subject)
		if err != nil {
			return nil, fmt.Errorf("parse %s subject template: %w", trigger, err)
		}
		body, err := template.New(string(trigger) + ".body").Option("missingkey=error").Parse(tpl.Body)
		if err != nil {
			return nil, fmt.Errorf("parse %s body template: %w", trigger, err)
		}
		r.templates[trigger] = compiled{subject: subject, body: body}
	}
	return r, nil
}

// Render 渲染提醒
func (r *Renderer) Render(item *models.ReminderItem, v *models.Vehicle) (Message, error) {
	tpl, ok := r.templates[item.Trigger]
	if !ok {
		return Message{}, fmt.Errorf("no template for trigger %s", item.Trigger)
	}

	owner := v.OwnerName
	if owner == "" {
		owner = "there"
	}
	data := TemplateData{
		WorkshopName: r.workshop,
		OwnerName:    owner,
		Make:         v.Make,
		Model:        v.Model,
		Year:         v.Year,
		LicensePlate: v.LicensePlate,
		Service:      item.Service,
		Overdue:      item.IsPastDue() || item.Status == models.ReminderOverdue,
		Mileage:      v.CurrentMileage,
	}
	if item.DueAtMileage != nil {
		data.DueMileage = formatKm(*item.DueAtMileage)
	}
	if item.DueAtDate != nil {
		data.DueDate = item.DueAtDate.Format("2 Jan 2006")
	}

	var subject, body strings.Builder
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}
	return Message{Subject: subject.String(), Body: body.String()}, nil
}

// formatKm 千位分隔
func formatKm(v int64) string {
	s := fmt.Sprintf("%d", v)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
