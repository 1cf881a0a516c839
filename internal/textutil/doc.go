// Package textutil provides the naming rules shared by the archive layout and
// the feed reader: turning titles into safe path segments, building
// comparison keys for duplicate detection, and producing lowercase tokens for
// log and registry file names.
package textutil
