// Package sam represents SAM alignment records and headers, and parses
// their textual form. It is the data model that the cram package converts
// into reference-compressed CRAM compression records; parsing and
// formatting of full SAM/BAM/CRAM files is out of scope here.
package sam
