package audit

import "github.com/kilianp07/depannage/core/model"

func statusOf(s string) model.DemandeStatus {
	st, _ := model.ParseDemandeStatus(s)
	return st
}
