package db

// SchemaSQL defines the run, ingest_job, document and sequence tables.
const SchemaSQL = `
    -- ==========================================================================
    -- RUN TABLE (one per tenant/engagement, record id is the run id)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS run SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS tenant_id ON run TYPE string;
    DEFINE FIELD IF NOT EXISTS engagement_id ON run TYPE string;
    DEFINE FIELD IF NOT EXISTS tree ON run TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS version ON run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON run TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON run TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS run_tenant_engagement ON run FIELDS tenant_id, engagement_id UNIQUE;

    -- ==========================================================================
    -- SEQUENCE TABLE (named counters, record id is the counter name)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS sequence SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS current ON sequence TYPE int DEFAULT 0;

    -- ==========================================================================
    -- INGEST JOB TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS ingest_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS tenant_id ON ingest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS engagement_id ON ingest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS site_url ON ingest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS folder_path ON ingest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS mode ON ingest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS year ON ingest_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS quarter ON ingest_job TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS status ON ingest_job TYPE string ASSERT $value IN ["pending", "complete", "failed"];
    DEFINE FIELD IF NOT EXISTS run_id ON ingest_job TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS error ON ingest_job TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS document_count ON ingest_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS documents_uploaded ON ingest_job TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS created_at ON ingest_job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS completed_at ON ingest_job TYPE option<datetime>;
    DEFINE INDEX IF NOT EXISTS ingest_job_status ON ingest_job FIELDS status;
    DEFINE INDEX IF NOT EXISTS ingest_job_tenant ON ingest_job FIELDS tenant_id, engagement_id;

    -- ==========================================================================
    -- DOCUMENT TABLE (write-once, steps are append-only)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS document SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS doc_run_id ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS run_id ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS tenant_id ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS engagement_id ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS year ON document TYPE int;
    DEFINE FIELD IF NOT EXISTS quarter ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS sub_category ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS owner ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS job_id ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS original_filename ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS source_path ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS content ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS fingerprint ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS steps ON document TYPE array<object> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS steps.*.step ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS steps.*.result ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS steps.*.timestamp ON document TYPE datetime;
    DEFINE FIELD IF NOT EXISTS created_at ON document TYPE datetime DEFAULT time::now();
    -- Content identity per owner scope: the dedup backstop
    DEFINE INDEX IF NOT EXISTS document_fingerprint ON document FIELDS doc_run_id, fingerprint UNIQUE;
    DEFINE INDEX IF NOT EXISTS document_job ON document FIELDS job_id;
`
