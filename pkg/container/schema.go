package container

// JSON Schemas for the two descriptor documents inside a ZDC container.
// Timestamps are validated structurally here and parsed leniently in the
// parser, since producers emit several ISO 8601 variants in the wild.

const contentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://datakeep.dev/schemas/zdc/content.json",
  "type": "object",
  "required": ["uuid", "containerType", "created", "modified", "static", "complete", "modelVersion"],
  "properties": {
    "uuid": {"type": "string", "minLength": 36, "maxLength": 36},
    "replaces": {"type": ["string", "null"]},
    "containerType": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "version": {"type": "string"},
        "id": {"type": "string"}
      }
    },
    "created": {"type": "string"},
    "modified": {"type": "string"},
    "storageTime": {"type": "string"},
    "static": {"type": "boolean"},
    "complete": {"type": "boolean"},
    "hash": {"type": ["string", "null"]},
    "usedSoftware": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "version": {"type": "string"},
          "id": {"type": "string"},
          "idType": {"type": "string"}
        }
      }
    },
    "modelVersion": {"type": "string", "minLength": 1}
  }
}`

const metaSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://datakeep.dev/schemas/zdc/meta.json",
  "type": "object",
  "required": ["author", "email", "title"],
  "properties": {
    "author": {"type": "string", "minLength": 1},
    "email": {"type": "string", "minLength": 3},
    "organization": {"type": "string"},
    "comment": {"type": "string"},
    "title": {"type": "string", "minLength": 1},
    "keywords": {
      "type": ["array", "null"],
      "items": {"type": "string"}
    },
    "description": {"type": "string"},
    "timestamp": {"type": "string"},
    "doi": {"type": "string"},
    "license": {"type": "string"}
  }
}`
