// internal/notify/messages.go
package notify

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/store"
)

const dateLayout = "2006-01-02"

func AvailableNotice(userID uuid.UUID, t store.Title) store.Notice {
	return store.Notice{
		UserID:  userID,
		Kind:    store.NoticeAvailable,
		TitleID: t.ID,
		Subject: fmt.Sprintf("%q is waiting for you", t.Name),
		Body:    fmt.Sprintf("A copy of %q by %s is now held for you. Borrow it to claim your place.", t.Name, t.Author),
	}
}

func OverdueNotice(l store.Loan, t store.Title) store.Notice {
	return loanNotice(l, store.NoticeOverdue,
		fmt.Sprintf("%q is overdue", t.Name),
		fmt.Sprintf("Your loan of %q was due on %s. Please return it.", t.Name, l.EndDate.Format(dateLayout)))
}

func DueSoonNotice(l store.Loan, t store.Title) store.Notice {
	return loanNotice(l, store.NoticeDueSoon,
		fmt.Sprintf("%q is due soon", t.Name),
		fmt.Sprintf("Your loan of %q is due on %s.", t.Name, l.EndDate.Format(dateLayout)))
}

func ReturnedNotice(l store.Loan, t store.Title) store.Notice {
	return loanNotice(l, store.NoticeReturned,
		fmt.Sprintf("%q returned", t.Name),
		fmt.Sprintf("We received %q on %s. Thank you.", t.Name, l.EndDate.Format(dateLayout)))
}

func loanNotice(l store.Loan, kind store.NoticeKind, subject, body string) store.Notice {
	loanID := l.ID
	return store.Notice{
		UserID:  l.UserID,
		Kind:    kind,
		TitleID: l.TitleID,
		LoanID:  &loanID,
		Subject: subject,
		Body:    body,
	}
}
