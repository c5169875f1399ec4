// internal/service/template_service.go
package service

import (
	"errors"

	appErrors "github.com/GGauravKKumar/vishi-ignou-outreach/internal/errors"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/mailer"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
)

// ValidateTemplate runs the template-level checks done before any recipient is
// touched. Only the subject is checked; an empty body is sent as is.
func ValidateTemplate(t model.Template) error {
	if err := mailer.ValidSubject(t.Subject); err != nil {
		if errors.Is(err, mailer.ErrSubjectEmpty) {
			return appErrors.NewValidation("template.subject", "Email subject cannot be empty")
		}
		return appErrors.NewValidation("template.subject", err.Error())
	}
	return nil
}

// RenderPreview personalizes a template for one recipient without sending anything.
func RenderPreview(t model.Template, r model.Recipient) (subject, body string) {
	return mailer.Personalize(t.Subject, r), mailer.Personalize(t.Body, r)
}
