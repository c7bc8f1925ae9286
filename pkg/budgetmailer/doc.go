// Package budgetmailer is a client for the BudgetMailer contact-management
// REST API. A Client signs every request with the account secret, talks
// HTTP/1.1 over a fresh connection per call and keeps contacts and lists in
// an optional on-disk cache so repeated reads do not hit the network.
//
// Routine "not found" answers are reported through comma-ok results and
// Outcome values rather than errors. Every other failure is returned as an
// error that matches one of the Err* kinds with errors.Is.
package budgetmailer
