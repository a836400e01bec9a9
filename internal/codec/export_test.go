package codec

// ReadPCM exposes the chunked PCM reader to the external tests.
var ReadPCM = readPCM
