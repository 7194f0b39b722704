// Package packager builds the deploy archive for one revision.
//
// The archive holds the application config file, the built binary under its
// in-archive name and every regular file of the asset directories. Entries
// are written in a fixed order with a fixed timestamp, so identical inputs
// give byte-identical archives.
package packager
