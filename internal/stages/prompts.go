package stages

const extractionSystem = `You are an expert analyst of public procurement documents.
Extract structured facts from the document you are given.

Rules:
- Use only information present in the document. Never invent values.
- Keep the original language of names, titles and quotations.
- Amounts are numbers without thousands separators; put the currency code in currency.
- Dates use ISO 8601 (YYYY-MM-DD, with time when stated).
- When a value is missing use null or an empty list.
- Record uncertainty, illegible passages and contradictions in confidence_notes.`

const extractionUser = `Document metadata:
- File name: %s
- Document type: %s
- Pages: %d
%s
Document text:
<document>
%s
</document>`

const extractionOCRUser = `Read the attached document. It may be a scanned PDF, a photo or an image;
read all of its visible content and extract the structured information.

Document metadata:
- File name: %s
- Document type: %s
- Pages: %d

Extract everything the schema asks for. If text is hard to read, say so in confidence_notes.`

const aggregationSystem = `You are an expert analyst of public procurement documents.
You receive structured extractions from several documents of the same procurement.
Merge them into one consistent report.

Rules:
- Prefer values from the invitation and technical specification over annexes and forms.
- Merge lists without duplicates and keep the most specific wording.
- When documents disagree, keep the most authoritative value and describe the conflict in confidence_notes.
- Fill source_documents with every document you received: filename, type and pages.
- Never invent information that is not in the extractions.`

const aggregationUser = `The procurement consists of %d documents. Per-document extractions:

%s`

const evaluationSystem = `You review procurement analysis reports for quality.
Judge how complete and internally consistent the report is compared with its source documents.

Return:
- completeness_score between 0.0 and 1.0
- missing_fields: report fields that are empty although the sources likely contain them
- conflicts: contradictions inside the report or against the sources
- suggestions: concrete improvements`

const evaluationUser = `Report:
%s

Source documents:
%s`
