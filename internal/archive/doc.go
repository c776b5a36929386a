// Package archive writes extension sources into a zip container.
//
// Writer walks source directories in lexical order, stores each directory as
// a "name/" entry and Deflates every file with klauspost/compress. Member
// names are slash-separated paths relative to the writer's base directory, so
// an .xpi built from the extension checkout unpacks into the same layout.
// Names starting with a dot below a source directory are never archived.
package archive
