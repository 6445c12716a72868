// Package pathmap rewrites filesystem paths across the host boundary.
//
// Two conventions coexist: native host paths (C:\Users\...) and the POSIX
// mounted view of them (/mnt/c/Users/...). Clients speak the mounted form,
// child backends speak whichever side they run on. The translator applies
// configured prefix mappings first and falls back to the generic
// drive-letter rule with separator flipping.
package pathmap
