// Package upload validates and stores a single image upload.
//
// Handler.Handle runs a linear pipeline and stops at the first failure:
//
//  1. presence    file and declared name present, save path non-empty
//  2. sniffing    first 2048 bytes must be a JPEG or PNG signature
//  3. sandboxing  save path resolved and checked to stay inside the root
//  4. mkdir       missing parent directories created
//  5. write       file created or truncated, bytes copied
//
// Nothing touches the filesystem before step 3 has accepted the path.
// Client-declared filenames and content types are never trusted; the declared
// name is only logged.
//
// Failures are returned as *Error values whose Kind maps onto the API error
// codes (MISSING_FILE, MISSING_DESTINATION, UNSUPPORTED_TYPE, PATH_TRAVERSAL,
// STORAGE_ERROR). Compare with errors.Is against the Err* sentinels.
package upload
