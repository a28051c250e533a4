// Package email delivers transactional mail.
//
// Sender is the delivery contract. LogSender writes messages to the log
// and is the development default, SESSender delivers through Amazon SES
// v2. AsyncSender wraps either so that callers never wait on delivery:
// failures are logged and counted but never returned.
//
// Mailer renders the HTML templates (verification, password reset,
// password changed, two-factor code, team invitation) and hands them to a
// Sender.
//
//	sender := email.NewAsyncSender(email.NewLogSender(logger), 8, metrics)
//	mailer := email.NewMailer(sender, "https://app.example.com", "Warden")
//	_ = mailer.SendVerification(ctx, "jane@example.com", token)
//	sender.Wait()
package email
