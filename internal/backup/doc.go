// Package backup runs one change-detecting backup of the world directories.
//
// A run fingerprints the sources and stops if nothing changed since the last
// recorded backup. Otherwise it archives, uploads, commits the new
// fingerprint, and then performs the tail steps: append log, remote
// retention, chat and email notification, local retention. Fingerprint,
// archive and upload failures abort the run. Tail failures are recorded in
// the Summary and make the outcome partial.
package backup
